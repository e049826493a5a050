package handler

import (
	"context"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"tg-postplanner/internal/crash"
)

type commandFunc func(ctx context.Context, in incoming) string

// Register attaches the middleware and every command to the bot handler
func (h *Handler) Register(bh *th.BotHandler) {
	bh.Use(h.initiatorMiddleware)

	commands := map[string]commandFunc{
		"start":     h.onStart,
		"help":      h.onHelp,
		"use":       h.onUse,
		"schedule":  h.onSchedule,
		"posts":     h.onPosts,
		"cancel":    h.onCancel,
		"postpone":  h.onPostpone,
		"published": h.onPublished,
	}
	for name, fn := range commands {
		bh.HandleMessage(h.wrap(fn), th.CommandEqual(name))
	}

	bh.HandleMessage(h.wrap(h.onContent), th.Not(th.AnyCommand()))
}

func (h *Handler) wrap(fn commandFunc) th.MessageHandler {
	return func(ctx *th.Context, message telego.Message) error {
		defer crash.RecoverWithStack("handler")

		in, ok := h.fromMessage(message)
		if !ok {
			return nil
		}
		h.reply(ctx, in, fn(ctx, in))
		return nil
	}
}
