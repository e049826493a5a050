package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tg-postplanner/internal/models"
	"tg-postplanner/internal/scheduler"
	"tg-postplanner/internal/storage"

	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

const (
	testUser = int64(1001)
	testChat = int64(-100200300)
)

// 12:00 at UTC+3
var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type sentMessage struct {
	ChatID int64
	Text   string
	Photo  string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *fakeMessenger) SendImageWithCaption(ctx context.Context, chatID int64, imageRef, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: caption, Photo: imageRef})
	return nil
}

func (m *fakeMessenger) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *fakeMessenger) to(chatID int64) []sentMessage {
	var out []sentMessage
	for _, msg := range m.messages() {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

type testEnv struct {
	svc   *PostScheduler
	repo  *storage.PostRepository
	jobs  *scheduler.Scheduler
	clock *testclock.FakeClock
	msg   *fakeMessenger
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "posts.db"), "ERROR")
	require.NoError(t, err)
	repo := storage.NewPostRepository(db)
	require.NoError(t, repo.MigrateTable())

	env := &testEnv{
		repo:  repo,
		clock: testclock.NewFakeClock(testNow),
		msg:   &fakeMessenger{},
	}
	env.jobs = scheduler.New(env.clock)

	if opts.TimePolicy == nil {
		opts.TimePolicy, err = NewTimePolicy("+03:00", "")
		require.NoError(t, err)
	}
	env.svc = NewPostScheduler(repo, env.jobs, env.msg, env.clock, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		env.jobs.Shutdown(ctx)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return env
}

// advance moves the fake clock and waits for the jobs it fired.
func (e *testEnv) advance(d time.Duration) {
	e.clock.Step(d)
	e.jobs.Wait()
}

func (e *testEnv) reload(t *testing.T, id string) *models.Post {
	t.Helper()
	post, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, post)
	return post
}

func (e *testEnv) schedule(t *testing.T, local string, offset time.Duration, auto bool) *models.Post {
	t.Helper()
	post, err := e.svc.Schedule(context.Background(), ScheduleRequest{
		UserID:         testUser,
		ChatID:         testChat,
		Content:        models.PostContent{Text: "Spring sale starts today"},
		PublishAtLocal: local,
		RemindOffset:   offset,
		AutoPublish:    auto,
	})
	require.NoError(t, err)
	return post
}

var errSendFailed = errors.New("telegram: bad gateway")
