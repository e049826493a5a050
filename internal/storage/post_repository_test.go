package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tg-postplanner/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *PostRepository {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "posts.db"), "ERROR")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := NewPostRepository(db)
	require.NoError(t, repo.MigrateTable())
	return repo
}

func newTestPost(id string, userID int64, publishAt time.Time) *models.Post {
	return &models.Post{
		ID:           id,
		UserID:       userID,
		ChatID:       -100500,
		Content:      models.PostContent{Text: "hello " + id},
		Status:       models.PostStatusScheduled,
		State:        models.PostStatePending,
		PublishAt:    publishAt,
		RemindAt:     publishAt.Add(-time.Hour),
		RemindOffset: time.Hour,
		AutoPublish:  true,
	}
}

func strPtr(s string) *string { return &s }

func TestPostRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newTestPost("p1", 42, at)))

	got, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, "hello p1", got.Content.Text)
	assert.True(t, got.PublishAt.Equal(at))
	assert.Equal(t, time.Hour, got.RemindOffset)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostRepository_ListByUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newTestPost("late", 1, base.Add(2*time.Hour))))
	require.NoError(t, repo.Create(ctx, newTestPost("early", 1, base)))
	require.NoError(t, repo.Create(ctx, newTestPost("other", 2, base)))
	_, err := repo.MarkCancelled(ctx, "late")
	require.NoError(t, err)

	all, err := repo.ListByUser(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "early", all[0].ID)
	assert.Equal(t, "late", all[1].ID)

	scheduled, err := repo.ListByUser(ctx, 1, models.PostStatusScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "early", scheduled[0].ID)

	pending, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPostRepository_ListScheduledSkipsHandedOffManualPosts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	publishAt := time.Now().Add(time.Hour)

	manual := newTestPost("manual", 1, publishAt)
	manual.AutoPublish = false
	require.NoError(t, repo.Create(ctx, manual))
	auto := newTestPost("auto", 1, publishAt)
	auto.AutoPublish = true
	require.NoError(t, repo.Create(ctx, auto))

	for _, id := range []string{"manual", "auto"} {
		ok, err := repo.MarkReminded(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	pending, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "auto", pending[0].ID, "a reminded auto post still waits for its publish")
}

func TestPostRepository_StateTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestPost("p1", 1, time.Now().Add(time.Hour))))

	ok, err := repo.SetJobHandles(ctx, "p1", strPtr("r1"), strPtr("j1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkReminded(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	// a second reminder must not match
	ok, err = repo.MarkReminded(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := repo.GetByID(ctx, "p1")
	assert.Equal(t, models.PostStateReminded, got.State)
	assert.Nil(t, got.RemindJobID)
	require.NotNil(t, got.PublishJobID)
	assert.Equal(t, "j1", *got.PublishJobID)

	ok, err = repo.MarkPublished(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ = repo.GetByID(ctx, "p1")
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.Equal(t, models.PostStatePublished, got.State)
	assert.Nil(t, got.PublishJobID)

	// terminal rows reject every further mutation
	for name, fn := range map[string]func() (bool, error){
		"publish": func() (bool, error) { return repo.MarkPublished(ctx, "p1") },
		"cancel":  func() (bool, error) { return repo.MarkCancelled(ctx, "p1") },
		"content": func() (bool, error) { return repo.UpdateContent(ctx, "p1", models.PostContent{Text: "x"}) },
		"handles": func() (bool, error) { return repo.SetJobHandles(ctx, "p1", strPtr("a"), nil) },
		"resched": func() (bool, error) {
			return repo.Reschedule(ctx, "p1", time.Now().Add(time.Hour), time.Now(), time.Hour)
		},
	} {
		ok, err := fn()
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}
}

func TestPostRepository_CancelAndReschedule(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newTestPost("p1", 1, at)))

	newAt := at.Add(24 * time.Hour)
	ok, err := repo.Reschedule(ctx, "p1", newAt, newAt.Add(-30*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateContent(ctx, "p1", models.PostContent{Text: "edited", PhotoFileID: "AgAD"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := repo.GetByID(ctx, "p1")
	assert.True(t, got.PublishAt.Equal(newAt))
	assert.Equal(t, 30*time.Minute, got.RemindOffset)
	assert.Equal(t, "edited", got.Content.Text)
	assert.Equal(t, "AgAD", got.Content.PhotoFileID)

	ok, err = repo.MarkCancelled(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkReminded(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ = repo.GetByID(ctx, "p1")
	assert.Equal(t, models.PostStatusCancelled, got.Status)
	assert.Equal(t, models.PostStateCancelled, got.State)
}
