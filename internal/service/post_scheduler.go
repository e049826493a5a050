package service

import (
	"context"
	"fmt"
	"time"

	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/metrics"
	"tg-postplanner/internal/models"
	"tg-postplanner/internal/scheduler"
	"tg-postplanner/internal/storage"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Job names registered with the scheduler.
const (
	JobRemind  = "remind"
	JobPublish = "publish"
)

// PostStore persists posts. Every mutation reports whether the row matched
// its precondition.
type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListByUser(ctx context.Context, userID int64, status models.PostStatus) ([]models.Post, error)
	ListScheduled(ctx context.Context) ([]models.Post, error)
	MarkReminded(ctx context.Context, id string) (bool, error)
	MarkPublished(ctx context.Context, id string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	Reschedule(ctx context.Context, id string, publishAt, remindAt time.Time, offset time.Duration) (bool, error)
	SetJobHandles(ctx context.Context, id string, remindJobID, publishJobID *string) (bool, error)
	UpdateContent(ctx context.Context, id string, content models.PostContent) (bool, error)
}

var _ PostStore = (*storage.PostRepository)(nil)

// JobRunner registers and cancels one-shot jobs.
type JobRunner interface {
	Schedule(runAt time.Time, name string, fn scheduler.JobFunc) (string, error)
	Cancel(id string) bool
}

var _ JobRunner = (*scheduler.Scheduler)(nil)

// Messenger delivers reminders and publications.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendImageWithCaption(ctx context.Context, chatID int64, imageRef, caption string) error
}

// Options tunes PostScheduler. Zero values select the defaults.
type Options struct {
	TimePolicy *TimePolicy
	// ValidationBuffer is how far in the future publish_at must be.
	ValidationBuffer time.Duration
	// ReminderGrace is how late a reminder may still be sent.
	ReminderGrace time.Duration
	// PublishOverdueOnRecovery publishes posts whose instant passed while
	// the process was down. Off by default.
	PublishOverdueOnRecovery bool
	Language                 string
}

// PostScheduler orchestrates post records and their reminder/publish jobs.
type PostScheduler struct {
	posts     PostStore
	jobs      JobRunner
	messenger Messenger
	clock     clock.PassiveClock
	opts      Options
}

// NewPostScheduler wires the orchestrator.
func NewPostScheduler(posts PostStore, jobs JobRunner, messenger Messenger, clk clock.PassiveClock, opts Options) *PostScheduler {
	if opts.TimePolicy == nil {
		opts.TimePolicy = DefaultTimePolicy()
	}
	if opts.ValidationBuffer <= 0 {
		opts.ValidationBuffer = time.Minute
	}
	if opts.ReminderGrace <= 0 {
		opts.ReminderGrace = time.Minute
	}
	if opts.Language == "" {
		opts.Language = models.DefaultLanguage
	}
	return &PostScheduler{
		posts:     posts,
		jobs:      jobs,
		messenger: messenger,
		clock:     clk,
		opts:      opts,
	}
}

// TimePolicy returns the policy used to read and render local times.
func (s *PostScheduler) TimePolicy() *TimePolicy {
	return s.opts.TimePolicy
}

// ScheduleRequest is the input of Schedule.
type ScheduleRequest struct {
	UserID         int64
	ChatID         int64
	Content        models.PostContent
	PublishAtLocal string
	RemindOffset   time.Duration
	AutoPublish    bool
}

// Validate checks the request shape; time parsing happens in Schedule.
func (r ScheduleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.ChatID, validation.Required),
		validation.Field(&r.PublishAtLocal, validation.Required),
		validation.Field(&r.RemindOffset, validation.Min(time.Duration(0)).Error("must not be negative")),
		validation.Field(&r.Content, validation.By(requireContent)),
	)
}

func requireContent(value interface{}) error {
	if c, ok := value.(models.PostContent); ok && c.IsEmpty() {
		return validation.NewError("validation_content_empty", "needs text or a photo")
	}
	return nil
}

// Schedule persists a new post and registers its jobs.
func (s *PostScheduler) Schedule(ctx context.Context, req ScheduleRequest) (post *models.Post, err error) {
	defer observe("schedule", &err)

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	publishAt, err := s.parsePublishAt(req.PublishAtLocal)
	if err != nil {
		return nil, err
	}

	post = &models.Post{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		ChatID:       req.ChatID,
		Content:      req.Content,
		Status:       models.PostStatusScheduled,
		State:        models.PostStatePending,
		PublishAt:    publishAt,
		RemindAt:     publishAt.Add(-req.RemindOffset),
		RemindOffset: req.RemindOffset,
		AutoPublish:  req.AutoPublish,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("save post: %w", err)
	}

	if err := s.registerJobs(ctx, post, s.clock.Now()); err != nil {
		// nothing will fire for it, so it must not stay scheduled
		if _, cerr := s.posts.MarkCancelled(ctx, post.ID); cerr != nil {
			logger.Errorf("Failed to cancel post %s after job registration error: %v", post.ID, cerr)
		}
		return nil, err
	}

	logger.Infof("Post %s scheduled by user %d for chat %d at %s (remind at %s, auto_publish=%v)",
		post.ID, post.UserID, post.ChatID,
		post.PublishAt.Format(time.RFC3339), post.RemindAt.Format(time.RFC3339), post.AutoPublish)
	return post, nil
}

// Postpone moves a scheduled post to a new instant and re-registers its jobs.
// A post that was already reminded keeps that state and gets no new reminder.
func (s *PostScheduler) Postpone(ctx context.Context, postID, newPublishAtLocal string, newRemindOffset time.Duration) (post *models.Post, err error) {
	defer observe("postpone", &err)

	post, err = s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != models.PostStatusScheduled {
		return nil, validationErrorf("post is already %s", post.Status)
	}
	if newRemindOffset < 0 {
		return nil, validationErrorf("reminder offset must not be negative")
	}
	publishAt, err := s.parsePublishAt(newPublishAtLocal)
	if err != nil {
		return nil, err
	}

	previous := *post
	s.cancelJobs(post)

	remindAt := publishAt.Add(-newRemindOffset)
	ok, err := s.posts.Reschedule(ctx, post.ID, publishAt, remindAt, newRemindOffset)
	if err != nil {
		s.restoreJobs(ctx, &previous, nil)
		return nil, fmt.Errorf("reschedule post: %w", err)
	}
	if !ok {
		return nil, validationErrorf("post is no longer scheduled")
	}

	// state may have advanced to reminded while the old jobs were running
	if fresh, err := s.posts.GetByID(ctx, post.ID); err == nil && fresh != nil {
		post = fresh
	} else {
		post.PublishAt, post.RemindAt, post.RemindOffset = publishAt, remindAt, newRemindOffset
	}

	if err := s.registerJobs(ctx, post, s.clock.Now()); err != nil {
		previous.State = post.State
		s.restoreJobs(ctx, &previous, post)
		return nil, err
	}

	logger.Infof("Post %s postponed to %s", post.ID, post.PublishAt.Format(time.RFC3339))
	return post, nil
}

// Cancel terminates a scheduled post. Cancelling a cancelled post is a no-op.
func (s *PostScheduler) Cancel(ctx context.Context, postID string) (err error) {
	defer observe("cancel", &err)

	post, err := s.load(ctx, postID)
	if err != nil {
		return err
	}

	switch post.Status {
	case models.PostStatusCancelled:
		return nil
	case models.PostStatusPublished:
		return validationErrorf("post is already published")
	}

	ok, err := s.posts.MarkCancelled(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("cancel post: %w", err)
	}
	if !ok {
		// lost a race with the publish job or another cancel
		current, err := s.load(ctx, post.ID)
		if err != nil {
			return err
		}
		if current.Status == models.PostStatusCancelled {
			return nil
		}
		return validationErrorf("post is already %s", current.Status)
	}

	s.cancelJobs(post)
	logger.Infof("Post %s cancelled", post.ID)
	return nil
}

// ConfirmPublished closes a reminder-only post once its author has published
// it by hand. Confirming twice is a no-op.
func (s *PostScheduler) ConfirmPublished(ctx context.Context, postID string) (err error) {
	defer observe("confirm_published", &err)

	post, err := s.load(ctx, postID)
	if err != nil {
		return err
	}
	if post.AutoPublish {
		return validationErrorf("post is published automatically")
	}
	switch post.Status {
	case models.PostStatusPublished:
		return nil
	case models.PostStatusCancelled:
		return validationErrorf("post is already cancelled")
	}

	ok, err := s.posts.MarkPublished(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}
	if !ok {
		current, err := s.load(ctx, post.ID)
		if err != nil {
			return err
		}
		if current.Status == models.PostStatusPublished {
			return nil
		}
		return validationErrorf("post is already %s", current.Status)
	}

	// a reminder that has not fired yet is no longer needed
	s.cancelJobs(post)
	logger.Infof("Post %s confirmed as published by user %d", post.ID, post.UserID)
	return nil
}

// UpdateContent replaces the payload of a scheduled post.
func (s *PostScheduler) UpdateContent(ctx context.Context, postID string, content models.PostContent) (err error) {
	defer observe("update_content", &err)

	if content.IsEmpty() {
		return validationErrorf("content needs text or a photo")
	}
	post, err := s.load(ctx, postID)
	if err != nil {
		return err
	}
	if post.Status != models.PostStatusScheduled {
		return validationErrorf("post is already %s", post.Status)
	}

	ok, err := s.posts.UpdateContent(ctx, post.ID, content)
	if err != nil {
		return fmt.Errorf("update post content: %w", err)
	}
	if !ok {
		return validationErrorf("post is no longer scheduled")
	}
	return nil
}

// Get returns one post.
func (s *PostScheduler) Get(ctx context.Context, postID string) (*models.Post, error) {
	return s.load(ctx, postID)
}

// ListUserPosts returns the user's posts ordered by publish time. An empty
// status returns all of them.
func (s *PostScheduler) ListUserPosts(ctx context.Context, userID int64, status models.PostStatus) ([]models.Post, error) {
	return s.posts.ListByUser(ctx, userID, status)
}

func (s *PostScheduler) load(ctx context.Context, postID string) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("load post %s: %w", postID, err)
	}
	if post == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, postID)
	}
	return post, nil
}

func (s *PostScheduler) parsePublishAt(local string) (time.Time, error) {
	publishAt, err := s.opts.TimePolicy.ParseLocal(local)
	if err != nil {
		return time.Time{}, err
	}
	earliest := s.clock.Now().Add(s.opts.ValidationBuffer)
	if publishAt.Before(earliest) {
		return time.Time{}, validationErrorf("publish time %s must be after %s",
			s.opts.TimePolicy.FormatLocal(publishAt), s.opts.TimePolicy.FormatLocal(earliest))
	}
	return publishAt, nil
}

// registerJobs schedules the reminder (while pending) and the publish (when
// auto_publish) and stores their handles. A reminder whose instant already
// passed is registered for now; SendReminder decides whether it is stale.
func (s *PostScheduler) registerJobs(ctx context.Context, post *models.Post, now time.Time) error {
	remindID, publishID, err := s.armJobs(post, now)
	if err != nil {
		return err
	}

	ok, err := s.posts.SetJobHandles(ctx, post.ID, remindID, publishID)
	if err != nil {
		cancelHandle(s.jobs, remindID)
		cancelHandle(s.jobs, publishID)
		return fmt.Errorf("store job handles for post %s: %w", post.ID, err)
	}
	if !ok {
		// cancelled or published in the meantime; the jobs would skip anyway
		cancelHandle(s.jobs, remindID)
		cancelHandle(s.jobs, publishID)
		logger.Warningf("Post %s left the scheduled status while its jobs were being registered", post.ID)
		return nil
	}

	post.RemindJobID, post.PublishJobID = remindID, publishID
	return nil
}

func (s *PostScheduler) armJobs(post *models.Post, now time.Time) (remindID, publishID *string, err error) {
	if post.State == models.PostStatePending {
		at := post.RemindAt
		if at.Before(now) {
			at = now
		}
		id, err := s.jobs.Schedule(at, JobRemind, s.reminderJob(post.ID))
		if err != nil {
			return nil, nil, fmt.Errorf("register reminder for post %s: %w", post.ID, err)
		}
		remindID = &id
	}

	if post.AutoPublish {
		id, err := s.jobs.Schedule(post.PublishAt, JobPublish, s.publishJob(post.ID))
		if err != nil {
			cancelHandle(s.jobs, remindID)
			return nil, nil, fmt.Errorf("register publish for post %s: %w", post.ID, err)
		}
		publishID = &id
	}
	return remindID, publishID, nil
}

// restoreJobs re-arms a post whose postpone failed after its old jobs were
// cancelled. When rescheduled is set the record already holds the new
// instants and is moved back first; if that fails the new instants are
// armed instead, so the jobs always match the stored record. The jobs stay
// armed even when their handles cannot be stored: they re-read the record
// when they fire, and Reconcile replaces the handles on the next start.
func (s *PostScheduler) restoreJobs(ctx context.Context, previous, rescheduled *models.Post) {
	target := previous
	if rescheduled != nil {
		ok, err := s.posts.Reschedule(ctx, previous.ID, previous.PublishAt, previous.RemindAt, previous.RemindOffset)
		if err != nil || !ok {
			logger.Errorf("Failed to move post %s back to %s (matched=%v): %v",
				previous.ID, previous.PublishAt.Format(time.RFC3339), ok, err)
			target = rescheduled
		}
	}

	remindID, publishID, err := s.armJobs(target, s.clock.Now())
	if err != nil {
		logger.Errorf("Failed to re-arm post %s after a failed postpone: %v", target.ID, err)
		return
	}
	if _, err := s.posts.SetJobHandles(ctx, target.ID, remindID, publishID); err != nil {
		logger.Warningf("Post %s re-armed but its job handles were not stored: %v", target.ID, err)
	}
	logger.Warningf("Postpone of post %s failed; kept publish time %s", target.ID, target.PublishAt.Format(time.RFC3339))
}

// cancelJobs is best effort: a job that already fired re-checks the record.
func (s *PostScheduler) cancelJobs(post *models.Post) {
	cancelHandle(s.jobs, post.RemindJobID)
	cancelHandle(s.jobs, post.PublishJobID)
}

func cancelHandle(jobs JobRunner, id *string) {
	if id != nil && *id != "" {
		jobs.Cancel(*id)
	}
}

func observe(op string, err *error) {
	metrics.PostOperations.WithLabelValues(op, metrics.Result(*err)).Inc()
}
