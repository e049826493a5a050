package storage

import (
	"context"
	"errors"
	"time"

	"tg-postplanner/internal/models"

	"gorm.io/gorm"
)

// PostRepository handles database operations for scheduled posts.
//
// Every state-machine mutation is a single conditional UPDATE, so a job and
// a user action racing on the same row cannot move it backwards. The bool
// results report whether the row matched.
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new PostRepository
func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// MigrateTable ensures the posts table exists
func (r *PostRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.Post{})
}

// Create inserts a new post
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// GetByID returns the post or nil when it does not exist
func (r *PostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&post)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &post, nil
}

// ListByUser returns the user's posts ordered by publish time; empty status means all.
func (r *PostRepository) ListByUser(ctx context.Context, userID int64, status models.PostStatus) ([]models.Post, error) {
	var posts []models.Post
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	result := q.Order("publish_at ASC").Find(&posts)
	return posts, result.Error
}

// ListScheduled returns every post still waiting on a job, oldest first.
// Reminder-only posts whose reminder went out have nothing left to run.
func (r *PostRepository) ListScheduled(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	result := r.db.WithContext(ctx).
		Where("status = ?", models.PostStatusScheduled).
		Where("auto_publish = ? OR state <> ?", true, models.PostStateReminded).
		Order("publish_at ASC").
		Find(&posts)
	return posts, result.Error
}

// MarkReminded moves pending -> reminded.
func (r *PostRepository) MarkReminded(ctx context.Context, id string) (bool, error) {
	return r.update(ctx, map[string]interface{}{
		"state":         models.PostStateReminded,
		"remind_job_id": nil,
	}, "id = ? AND status = ? AND state IN ?", id, models.PostStatusScheduled,
		models.StatesAdvancingTo(models.PostStateReminded))
}

// MarkPublished moves pending|reminded -> published and drops both handles.
func (r *PostRepository) MarkPublished(ctx context.Context, id string) (bool, error) {
	return r.update(ctx, map[string]interface{}{
		"status":         models.PostStatusPublished,
		"state":          models.PostStatePublished,
		"remind_job_id":  nil,
		"publish_job_id": nil,
	}, "id = ? AND status = ? AND state IN ?", id, models.PostStatusScheduled,
		models.StatesAdvancingTo(models.PostStatePublished))
}

// MarkCancelled terminates a scheduled post and drops both handles.
func (r *PostRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	return r.update(ctx, map[string]interface{}{
		"status":         models.PostStatusCancelled,
		"state":          models.PostStateCancelled,
		"remind_job_id":  nil,
		"publish_job_id": nil,
	}, "id = ? AND status = ? AND state IN ?", id, models.PostStatusScheduled,
		models.StatesAdvancingTo(models.PostStateCancelled))
}

// Reschedule replaces the instants of a post that has not reached a terminal state.
func (r *PostRepository) Reschedule(ctx context.Context, id string, publishAt, remindAt time.Time, offset time.Duration) (bool, error) {
	return r.update(ctx, map[string]interface{}{
		"publish_at":    publishAt.UTC(),
		"remind_at":     remindAt.UTC(),
		"remind_offset": offset,
	}, "id = ? AND status = ? AND state IN ?", id, models.PostStatusScheduled, models.ActiveStates())
}

// SetJobHandles stores the scheduler handles while the post is still scheduled.
func (r *PostRepository) SetJobHandles(ctx context.Context, id string, remindJobID, publishJobID *string) (bool, error) {
	return r.update(ctx, map[string]interface{}{
		"remind_job_id":  remindJobID,
		"publish_job_id": publishJobID,
	}, "id = ? AND status = ?", id, models.PostStatusScheduled)
}

// UpdateContent replaces the payload of a scheduled post.
func (r *PostRepository) UpdateContent(ctx context.Context, id string, content models.PostContent) (bool, error) {
	return r.update(ctx, map[string]interface{}{
		"content_text":          content.Text,
		"content_photo_file_id": content.PhotoFileID,
	}, "id = ? AND status = ?", id, models.PostStatusScheduled)
}

func (r *PostRepository) update(ctx context.Context, values map[string]interface{}, query string, args ...interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where(query, args...).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
