package handler

import (
	"context"
	"strings"

	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/models"
	"tg-postplanner/internal/ratelimit"
	"tg-postplanner/internal/service"
)

func (h *Handler) helpText(lang string) string {
	policy := h.posts.TimePolicy()
	lines := []string{
		tr(lang, "help_title"),
		"",
		tr(lang, "help_description"),
		"",
		tr(lang, "help_commands"),
		tr(lang, "help_cmd_schedule"),
		tr(lang, "help_cmd_posts"),
		tr(lang, "help_cmd_cancel"),
		tr(lang, "help_cmd_postpone"),
		tr(lang, "help_cmd_published"),
		tr(lang, "help_cmd_use"),
		tr(lang, "help_cmd_start"),
		"",
		tr(lang, "help_note", policy.ZoneName(), int(h.defaultOffset.Minutes())),
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) onHelp(ctx context.Context, in incoming) string {
	return h.helpText(in.Lang)
}

// onStart drops the caller's flow and gives up the chat claim if they hold it
func (h *Handler) onStart(ctx context.Context, in incoming) string {
	if err := h.sessions.Reset(ctx, in.ChatID, in.UserID); err != nil {
		logger.Errorf("Error resetting session %d:%d: %v", in.ChatID, in.UserID, err)
		return tr(in.Lang, "error_try_later")
	}
	if in.isGroup() {
		if _, err := h.lock.ReleaseIfHolder(ctx, in.ChatID, in.UserID); err != nil {
			logger.Warningf("Error releasing initiator of chat %d: %v", in.ChatID, err)
		}
	}
	return tr(in.Lang, "flow_reset") + "\n\n" + h.helpText(in.Lang)
}

// onUse marks the caller as actively using the bot. The claim itself was
// taken by the initiator middleware.
func (h *Handler) onUse(ctx context.Context, in incoming) string {
	if !in.isGroup() {
		return tr(in.Lang, "error_group_only")
	}
	draft, err := h.sessions.Load(ctx, in.ChatID, in.UserID)
	if err != nil {
		logger.Errorf("Error loading session %d:%d: %v", in.ChatID, in.UserID, err)
		return tr(in.Lang, "error_try_later")
	}
	if draft.Step != StepIdle {
		return tr(in.Lang, "use_already")
	}
	if err := h.sessions.Save(ctx, in.ChatID, in.UserID, Draft{Step: StepActive}); err != nil {
		logger.Errorf("Error saving session %d:%d: %v", in.ChatID, in.UserID, err)
		return tr(in.Lang, "error_try_later")
	}
	return tr(in.Lang, "use_granted")
}

// onSchedule stores the timing of a new post and waits for its content
func (h *Handler) onSchedule(ctx context.Context, in incoming) string {
	_, args := parseCommand(in.Text)
	parsed, err := parseScheduleArgs(args, h.defaultOffset)
	if err != nil {
		return tr(in.Lang, "schedule_usage")
	}

	// reject bad dates now rather than after the content arrives
	publishAt, err := h.posts.TimePolicy().ParseLocal(parsed.PublishAtLocal)
	if err != nil {
		return h.errorText(in.Lang, err)
	}

	draft := Draft{
		Step:           StepAwaitContent,
		PublishAtLocal: parsed.PublishAtLocal,
		RemindOffset:   parsed.RemindOffset,
		AutoPublish:    parsed.AutoPublish,
	}
	if err := h.sessions.Save(ctx, in.ChatID, in.UserID, draft); err != nil {
		logger.Errorf("Error saving session %d:%d: %v", in.ChatID, in.UserID, err)
		return tr(in.Lang, "error_try_later")
	}
	return tr(in.Lang, "schedule_send_content", h.posts.TimePolicy().FormatLocal(publishAt))
}

// onContent completes a pending /schedule with the message as post content.
// Messages outside that flow are ignored.
func (h *Handler) onContent(ctx context.Context, in incoming) string {
	draft, err := h.sessions.Load(ctx, in.ChatID, in.UserID)
	if err != nil {
		logger.Errorf("Error loading session %d:%d: %v", in.ChatID, in.UserID, err)
		return tr(in.Lang, "error_try_later")
	}
	if draft.Step != StepAwaitContent {
		return ""
	}

	content := models.PostContent{Text: strings.TrimSpace(in.Text), PhotoFileID: in.PhotoID}
	if content.IsEmpty() {
		return tr(in.Lang, "schedule_empty")
	}

	var post *models.Post
	err = h.limiter.Guard(ctx, ratelimit.UserOperationsKey(in.UserID), h.policy, func(ctx context.Context) error {
		var err error
		post, err = h.posts.Schedule(ctx, service.ScheduleRequest{
			UserID:         in.UserID,
			ChatID:         in.ChatID,
			Content:        content,
			PublishAtLocal: draft.PublishAtLocal,
			RemindOffset:   draft.RemindOffset,
			AutoPublish:    draft.AutoPublish,
		})
		return err
	})

	if resetErr := h.sessions.Reset(ctx, in.ChatID, in.UserID); resetErr != nil {
		logger.Warningf("Error resetting session %d:%d: %v", in.ChatID, in.UserID, resetErr)
	}
	if err != nil {
		return h.errorText(in.Lang, err)
	}

	policy := h.posts.TimePolicy()
	if !post.AutoPublish {
		return tr(in.Lang, "schedule_done_manual", post.ID, policy.FormatLocal(post.RemindAt))
	}
	return tr(in.Lang, "schedule_done", post.ID, policy.FormatLocal(post.PublishAt), policy.FormatLocal(post.RemindAt))
}

func (h *Handler) onPosts(ctx context.Context, in incoming) string {
	posts, err := h.posts.ListUserPosts(ctx, in.UserID, models.PostStatusScheduled)
	if err != nil {
		logger.Errorf("Error listing posts of user %d: %v", in.UserID, err)
		return tr(in.Lang, "error_try_later")
	}
	if len(posts) == 0 {
		return tr(in.Lang, "posts_empty")
	}

	policy := h.posts.TimePolicy()
	lines := []string{tr(in.Lang, "posts_title")}
	for _, post := range posts {
		mode := tr(in.Lang, "post_auto")
		if !post.AutoPublish {
			mode = tr(in.Lang, "post_manual")
		}
		lines = append(lines, tr(in.Lang, "posts_item", post.ID, policy.FormatLocal(post.PublishAt), mode))
	}
	return strings.Join(lines, "\n")
}

// ownPost loads a post and hides posts of other users
func (h *Handler) ownPost(ctx context.Context, in incoming, postID string) (*models.Post, error) {
	post, err := h.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != in.UserID {
		return nil, service.ErrNotFound
	}
	return post, nil
}

func (h *Handler) onCancel(ctx context.Context, in incoming) string {
	_, args := parseCommand(in.Text)
	if len(args) != 1 {
		return tr(in.Lang, "cancel_usage")
	}
	if _, err := h.ownPost(ctx, in, args[0]); err != nil {
		return h.errorText(in.Lang, err)
	}
	if err := h.posts.Cancel(ctx, args[0]); err != nil {
		return h.errorText(in.Lang, err)
	}
	return tr(in.Lang, "cancel_done", args[0])
}

func (h *Handler) onPublished(ctx context.Context, in incoming) string {
	_, args := parseCommand(in.Text)
	if len(args) != 1 {
		return tr(in.Lang, "published_usage")
	}
	if _, err := h.ownPost(ctx, in, args[0]); err != nil {
		return h.errorText(in.Lang, err)
	}
	if err := h.posts.ConfirmPublished(ctx, args[0]); err != nil {
		return h.errorText(in.Lang, err)
	}
	return tr(in.Lang, "published_done", args[0])
}

func (h *Handler) onPostpone(ctx context.Context, in incoming) string {
	_, args := parseCommand(in.Text)
	parsed, err := parsePostponeArgs(args)
	if err != nil {
		return tr(in.Lang, "postpone_usage")
	}

	post, err := h.ownPost(ctx, in, parsed.PostID)
	if err != nil {
		return h.errorText(in.Lang, err)
	}
	offset := post.RemindOffset
	if parsed.RemindOffset != nil {
		offset = *parsed.RemindOffset
	}

	var moved *models.Post
	err = h.limiter.Guard(ctx, ratelimit.UserOperationsKey(in.UserID), h.policy, func(ctx context.Context) error {
		var err error
		moved, err = h.posts.Postpone(ctx, parsed.PostID, parsed.PublishAtLocal, offset)
		return err
	})
	if err != nil {
		return h.errorText(in.Lang, err)
	}
	return tr(in.Lang, "postpone_done", moved.ID, h.posts.TimePolicy().FormatLocal(moved.PublishAt))
}
