package service

import (
	"context"
	"fmt"

	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/models"
	"tg-postplanner/internal/scheduler"
)

func (s *PostScheduler) reminderJob(postID string) scheduler.JobFunc {
	return func(ctx context.Context) error {
		return s.SendReminder(ctx, postID)
	}
}

func (s *PostScheduler) publishJob(postID string) scheduler.JobFunc {
	return func(ctx context.Context) error {
		return s.PublishPost(ctx, postID)
	}
}

// SendReminder notifies the author about an upcoming post. It is at-most-once:
// a failed send is returned for logging and never retried, and the state
// stays pending.
func (s *PostScheduler) SendReminder(ctx context.Context, postID string) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post %s for reminder: %w", postID, err)
	}
	if post == nil {
		logger.Warningf("Post %s not found for reminder job", postID)
		return nil
	}
	if !post.IsActive() || !post.State.CanAdvanceTo(models.PostStateReminded) {
		logger.Infof("Skip reminder for post %s: status=%s state=%s", postID, post.Status, post.State)
		return nil
	}

	// a zero offset puts remind_at on publish_at, so only lateness counts
	if late := s.clock.Now().Sub(post.RemindAt); late > s.opts.ReminderGrace {
		logger.Infof("Skip stale reminder for post %s: %s late", postID, late)
		return nil
	}

	notice := fmt.Sprintf(s.tr("reminder_notice"), s.opts.TimePolicy.FormatLocal(post.PublishAt))
	if err := s.messenger.SendText(ctx, post.UserID, notice); err != nil {
		return fmt.Errorf("send reminder for post %s: %w", postID, err)
	}
	content := post.Content
	if !content.HasPhoto() && content.Text == "" {
		content.Text = s.tr("reminder_no_text")
	}
	if err := s.send(ctx, post.UserID, content); err != nil {
		return fmt.Errorf("send reminder preview for post %s: %w", postID, err)
	}

	ok, err := s.posts.MarkReminded(ctx, postID)
	if err != nil {
		return fmt.Errorf("mark post %s reminded: %w", postID, err)
	}
	if !ok {
		logger.Warningf("Post %s changed while its reminder was being sent", postID)
		return nil
	}

	logger.Infof("Reminder sent for post %s", postID)
	return nil
}

// PublishPost sends the post to its target chat. Like the reminder it is not
// retried; a failure leaves the state unchanged for the operator.
func (s *PostScheduler) PublishPost(ctx context.Context, postID string) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post %s for publish: %w", postID, err)
	}
	if post == nil {
		logger.Warningf("Post %s not found for publish job", postID)
		return nil
	}
	if !post.IsActive() {
		logger.Infof("Skip publish for post %s: status=%s state=%s", postID, post.Status, post.State)
		return nil
	}

	if err := s.send(ctx, post.ChatID, post.Content); err != nil {
		return fmt.Errorf("publish post %s to chat %d: %w", postID, post.ChatID, err)
	}

	ok, err := s.posts.MarkPublished(ctx, postID)
	if err != nil {
		return fmt.Errorf("mark post %s published: %w", postID, err)
	}
	if !ok {
		logger.Warningf("Post %s was sent but changed before it could be marked published", postID)
		return nil
	}

	logger.Infof("Post %s published to chat %d", postID, post.ChatID)
	return nil
}

func (s *PostScheduler) send(ctx context.Context, chatID int64, content models.PostContent) error {
	if content.HasPhoto() {
		return s.messenger.SendImageWithCaption(ctx, chatID, content.PhotoFileID, content.Text)
	}
	return s.messenger.SendText(ctx, chatID, content.Text)
}

func (s *PostScheduler) tr(key string) string {
	return models.GetTranslation(s.opts.Language, key)
}
