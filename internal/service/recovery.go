package service

import (
	"context"
	"fmt"
	"time"

	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/models"
)

// ReconcileReport summarizes a recovery pass.
type ReconcileReport struct {
	Posts            int
	Reminders        int
	Publishes        int
	OverdueSkipped   int
	OverduePublished int
	Failed           int
}

// Reconcile re-registers the jobs of every scheduled post after a restart.
// Jobs are in-memory, so handles stored by a previous process mean nothing.
//
// A pending reminder is registered at max(remind_at, now) and the staleness
// rules of SendReminder apply. A publish whose instant already passed is only
// sent when PublishOverdueOnRecovery is set; otherwise it is logged and left
// for the operator.
func (s *PostScheduler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	posts, err := s.posts.ListScheduled(ctx)
	if err != nil {
		return report, fmt.Errorf("list scheduled posts: %w", err)
	}
	report.Posts = len(posts)

	now := s.clock.Now()
	for i := range posts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.recoverPost(ctx, &posts[i], now, &report); err != nil {
			report.Failed++
			logger.Errorf("Failed to recover post %s: %v", posts[i].ID, err)
		}
	}

	logger.Infof("Recovered %d scheduled posts: %d reminders, %d publishes, %d overdue published, %d overdue skipped, %d failed",
		report.Posts, report.Reminders, report.Publishes, report.OverduePublished, report.OverdueSkipped, report.Failed)
	return report, nil
}

func (s *PostScheduler) recoverPost(ctx context.Context, post *models.Post, now time.Time, report *ReconcileReport) error {
	var remindID, publishID *string

	if post.State == models.PostStatePending {
		at := post.RemindAt
		if at.Before(now) {
			at = now
		}
		id, err := s.jobs.Schedule(at, JobRemind, s.reminderJob(post.ID))
		if err != nil {
			return fmt.Errorf("register reminder: %w", err)
		}
		remindID = &id
		report.Reminders++
	}

	if post.AutoPublish {
		switch {
		case post.PublishAt.After(now):
			id, err := s.jobs.Schedule(post.PublishAt, JobPublish, s.publishJob(post.ID))
			if err != nil {
				cancelHandle(s.jobs, remindID)
				return fmt.Errorf("register publish: %w", err)
			}
			publishID = &id
			report.Publishes++
		case s.opts.PublishOverdueOnRecovery:
			id, err := s.jobs.Schedule(now, JobPublish, s.publishJob(post.ID))
			if err != nil {
				cancelHandle(s.jobs, remindID)
				return fmt.Errorf("register overdue publish: %w", err)
			}
			publishID = &id
			report.OverduePublished++
			logger.Warningf("Post %s missed its publish time %s, publishing now", post.ID, post.PublishAt.Format(time.RFC3339))
		default:
			report.OverdueSkipped++
			logger.Warningf("Post %s missed its publish time %s while the bot was down; not published", post.ID, post.PublishAt.Format(time.RFC3339))
		}
	}

	ok, err := s.posts.SetJobHandles(ctx, post.ID, remindID, publishID)
	if err != nil {
		cancelHandle(s.jobs, remindID)
		cancelHandle(s.jobs, publishID)
		return fmt.Errorf("store job handles: %w", err)
	}
	if !ok {
		cancelHandle(s.jobs, remindID)
		cancelHandle(s.jobs, publishID)
	}
	return nil
}
