package handler

import (
	"context"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"tg-postplanner/internal/logger"
)

// commands that never need exclusive use of a group
var unguardedCommands = map[string]bool{
	"start": true,
	"help":  true,
}

// initiatorMiddleware lets one member at a time drive the bot in a group.
// Private chats pass through untouched.
func (h *Handler) initiatorMiddleware(ctx *th.Context, update telego.Update) error {
	if update.Message == nil {
		return ctx.Next(update)
	}
	in, ok := h.fromMessage(*update.Message)
	if !ok || !in.isGroup() {
		return ctx.Next(update)
	}

	if !h.admit(ctx, in) {
		return nil
	}
	err := ctx.Next(update)
	h.releaseIfIdle(ctx, in)
	return err
}

// admit decides whether a group message may reach the handlers. Rejected
// members get a reply unless the message was ordinary chatter.
func (h *Handler) admit(ctx context.Context, in incoming) bool {
	cmd, _ := parseCommand(in.Text)
	if unguardedCommands[cmd] {
		return true
	}

	if cmd == "" {
		// plain messages matter only inside a flow
		idle, err := h.sessions.IsIdle(ctx, in.ChatID, in.UserID)
		if err != nil {
			logger.Errorf("Error loading session %d:%d: %v", in.ChatID, in.UserID, err)
			return false
		}
		if idle {
			return false
		}
	}

	decision, err := h.lock.TryClaimOrCheck(ctx, in.ChatID, in.UserID, cmd == "use")
	if err != nil {
		logger.Errorf("Initiator check failed for chat %d: %v", in.ChatID, err)
		h.reply(ctx, in, tr(in.Lang, "error_try_later"))
		return false
	}
	if !decision.Allowed() {
		logger.WithField("chat_id", in.ChatID).Debugf("User %d rejected, held by %d", in.UserID, decision.HolderID)
		h.reply(ctx, in, tr(in.Lang, "error_busy"))
		return false
	}
	return true
}

// releaseIfIdle gives the chat back once the holder has no flow in progress
func (h *Handler) releaseIfIdle(ctx context.Context, in incoming) {
	idle, err := h.sessions.IsIdle(ctx, in.ChatID, in.UserID)
	if err != nil {
		logger.Warningf("Error loading session %d:%d: %v", in.ChatID, in.UserID, err)
		return
	}
	if !idle {
		return
	}
	if _, err := h.lock.ReleaseIfHolder(ctx, in.ChatID, in.UserID); err != nil {
		logger.Warningf("Error releasing initiator of chat %d: %v", in.ChatID, err)
	}
}

func (h *Handler) reply(ctx context.Context, in incoming, text string) {
	if text == "" {
		return
	}
	if err := h.replies.SendText(ctx, in.ChatID, text); err != nil {
		logger.Errorf("Error replying to chat %d: %v", in.ChatID, err)
	}
}
