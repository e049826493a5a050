package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mymmrac/telego"

	"tg-postplanner/internal/initiator"
	"tg-postplanner/internal/models"
	"tg-postplanner/internal/ratelimit"
	"tg-postplanner/internal/service"
)

// Replier sends plain text replies back to a chat
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Deps wires the handler to the coordination core
type Deps struct {
	Posts         *service.PostScheduler
	Limiter       *ratelimit.Limiter
	Policy        ratelimit.Policy
	Lock          *initiator.Lock
	Sessions      *SessionStore
	Replies       Replier
	Language      string
	DefaultOffset time.Duration
}

// Handler turns Telegram messages into post scheduling operations
type Handler struct {
	posts         *service.PostScheduler
	limiter       *ratelimit.Limiter
	policy        ratelimit.Policy
	lock          *initiator.Lock
	sessions      *SessionStore
	replies       Replier
	lang          string
	defaultOffset time.Duration
}

func New(d Deps) *Handler {
	lang := d.Language
	if lang == "" {
		lang = models.DefaultLanguage
	}
	return &Handler{
		posts:         d.Posts,
		limiter:       d.Limiter,
		policy:        d.Policy,
		lock:          d.Lock,
		sessions:      d.Sessions,
		replies:       d.Replies,
		lang:          lang,
		defaultOffset: d.DefaultOffset,
	}
}

// incoming is the part of a message the commands act on
type incoming struct {
	ChatID   int64
	ChatType string
	UserID   int64
	Lang     string
	Text     string
	PhotoID  string
}

func (in incoming) isGroup() bool {
	return in.ChatType == telego.ChatTypeGroup || in.ChatType == telego.ChatTypeSupergroup
}

func (h *Handler) fromMessage(message telego.Message) (incoming, bool) {
	if message.From == nil || message.From.IsBot {
		return incoming{}, false
	}

	in := incoming{
		ChatID:   message.Chat.ID,
		ChatType: message.Chat.Type,
		UserID:   message.From.ID,
		Lang:     h.lang,
		Text:     message.Text,
	}
	if message.From.LanguageCode != "" {
		in.Lang = models.NormalizeLanguage(message.From.LanguageCode)
	}
	if len(message.Photo) > 0 {
		// the last size is the largest
		in.PhotoID = message.Photo[len(message.Photo)-1].FileID
		in.Text = message.Caption
	}
	return in, true
}

func tr(lang, key string, args ...interface{}) string {
	text := models.GetTranslation(lang, key)
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// errorText maps an operation error onto a user facing reply
func (h *Handler) errorText(lang string, err error) string {
	var exceeded *ratelimit.ExceededError
	switch {
	case errors.As(err, &exceeded):
		return tr(lang, "error_rate_limit", formatWait(exceeded.RetryAfter))
	case errors.Is(err, service.ErrNotFound):
		return tr(lang, "error_not_found")
	case errors.Is(err, service.ErrValidation):
		return tr(lang, "error_validation", service.Reason(err))
	default:
		return tr(lang, "error_try_later")
	}
}

func formatWait(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return d.Round(time.Second).String()
}
