package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"tg-postplanner/internal/config"
	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/models"
)

// BotService wraps the telego bot and its update handler
type BotService struct {
	Bot     *telego.Bot
	Handler *th.BotHandler
}

// Start blocks while the handler dispatches updates
func (b *BotService) Start() error {
	return b.Handler.Start()
}

func (b *BotService) Stop(ctx context.Context) error {
	return b.Handler.StopWithContext(ctx)
}

// Initialize creates the bot, publishes the command menu and attaches the
// update source. A configured webhook endpoint selects webhook delivery,
// otherwise updates come from long polling and the returned server only
// carries the metrics endpoint (it is nil when there is nothing to serve).
func Initialize(ctx context.Context, cfg *config.Config) (*BotService, *WebhookServer, error) {
	bot, err := telego.NewBot(cfg.Bot.Token, botOptions(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bot: %w", err)
	}

	botUser, err := bot.GetMe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	logger.Infof("Bot user: %s (@%s)", botUser.FirstName, botUser.Username)

	if err := setLocalizedCommands(ctx, bot, cfg.Bot.Language); err != nil {
		logger.Warningf("Error setting bot commands: %v", err)
	}

	if cfg.Bot.Webhook.Endpoint == "" {
		return initPolling(ctx, bot, cfg)
	}

	secretToken := webhookSecret(cfg.Bot.Token)
	server, updates, err := SetupWebhook(ctx, bot, cfg, secretToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup webhook: %w", err)
	}

	handler, err := th.NewBotHandler(bot, updates)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bot handler: %w", err)
	}
	return &BotService{Bot: bot, Handler: handler}, server, nil
}

func initPolling(ctx context.Context, bot *telego.Bot, cfg *config.Config) (*BotService, *WebhookServer, error) {
	if err := bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{}); err != nil {
		logger.Warningf("Error deleting webhook: %v", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: allowedUpdates,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start long polling: %w", err)
	}
	logger.Infof("Receiving updates via long polling")

	handler, err := th.NewBotHandler(bot, updates)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bot handler: %w", err)
	}

	var server *WebhookServer
	if cfg.Metrics.Enabled {
		server = newServer(cfg, newMux(cfg))
	}
	return &BotService{Bot: bot, Handler: handler}, server, nil
}

func botOptions(cfg *config.Config) []telego.BotOption {
	if strings.EqualFold(cfg.Logger.Level, "debug") {
		return []telego.BotOption{telego.WithDefaultDebugLogger()}
	}
	return []telego.BotOption{telego.WithDefaultLogger(false, true)}
}

func webhookSecret(token string) string {
	if len(token) < 6 {
		return "postplanner_webhook_" + token
	}
	return "postplanner_webhook_" + token[len(token)-6:]
}

var commandNames = []string{"start", "help", "schedule", "posts", "cancel", "postpone", "published", "use"}

func commandsFor(lang string) []telego.BotCommand {
	commands := make([]telego.BotCommand, 0, len(commandNames))
	for _, name := range commandNames {
		commands = append(commands, telego.BotCommand{
			Command:     name,
			Description: models.GetTranslation(lang, "cmd_desc_"+name),
		})
	}
	return commands
}

// setLocalizedCommands registers the menu for every supported language and
// uses the configured language for clients with no match.
func setLocalizedCommands(ctx context.Context, bot *telego.Bot, defaultLang string) error {
	for _, lang := range models.SupportedLanguages() {
		err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
			Commands:     commandsFor(lang),
			LanguageCode: lang,
		})
		if err != nil {
			return fmt.Errorf("set commands for %s: %w", lang, err)
		}
		logger.Debugf("Commands set for language %s (%s)", lang, models.GetLanguageName(lang))
	}

	return bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commandsFor(defaultLang),
	})
}
