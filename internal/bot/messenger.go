package bot

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"tg-postplanner/internal/config"
)

// maxCaptionLength is Telegram's limit for photo captions
const maxCaptionLength = 1024

// Sender is the part of *telego.Bot the messenger needs
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
}

// Messenger delivers posts, reminders and replies. Outbound calls share one
// token bucket so bursts of jobs stay under Telegram's flood limits.
type Messenger struct {
	sender  Sender
	limiter *rate.Limiter
}

func NewMessenger(sender Sender, cfg config.BotConfig) *Messenger {
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}
	return &Messenger{sender: sender, limiter: rate.NewLimiter(limit, burst)}
}

func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := m.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// SendImageWithCaption sends a photo by file id. A caption over Telegram's
// limit follows the photo as a separate message.
func (m *Messenger) SendImageWithCaption(ctx context.Context, chatID int64, imageRef, caption string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	photo := tu.Photo(tu.ID(chatID), tu.FileFromID(imageRef))
	overflow := utf8.RuneCountInString(caption) > maxCaptionLength
	if caption != "" && !overflow {
		photo = photo.WithCaption(caption)
	}
	if _, err := m.sender.SendPhoto(ctx, photo); err != nil {
		return fmt.Errorf("send photo to %d: %w", chatID, err)
	}

	if overflow {
		return m.SendText(ctx, chatID, caption)
	}
	return nil
}
