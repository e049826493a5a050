package handler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tg-postplanner/internal/coordinator"
	"tg-postplanner/internal/initiator"
	"tg-postplanner/internal/models"
	"tg-postplanner/internal/ratelimit"
	"tg-postplanner/internal/scheduler"
	"tg-postplanner/internal/service"
	"tg-postplanner/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

const (
	alice = int64(1001)
	bob   = int64(1002)
	group = int64(-100200300)
)

// 12:00 at UTC+3
var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type sent struct {
	ChatID int64
	Text   string
}

type fakeReplies struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeReplies) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeReplies) SendImageWithCaption(ctx context.Context, chatID int64, imageRef, caption string) error {
	return f.SendText(ctx, chatID, caption)
}

func (f *fakeReplies) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type testEnv struct {
	h       *Handler
	clock   *testclock.FakeClock
	mr      *miniredis.Miniredis
	jobs    *scheduler.Scheduler
	replies *fakeReplies
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := coordinator.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")

	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "posts.db"), "ERROR")
	require.NoError(t, err)
	repo := storage.NewPostRepository(db)
	require.NoError(t, repo.MigrateTable())

	env := &testEnv{
		clock:   testclock.NewFakeClock(testNow),
		mr:      mr,
		replies: &fakeReplies{},
	}
	env.jobs = scheduler.New(env.clock)

	policy, err := service.NewTimePolicy("+03:00", "")
	require.NoError(t, err)
	posts := service.NewPostScheduler(repo, env.jobs, env.replies, env.clock, service.Options{TimePolicy: policy})

	sessions := NewSessionStore(client, 0)
	env.h = New(Deps{
		Posts:         posts,
		Limiter:       ratelimit.New(client, env.clock),
		Policy:        ratelimit.Policy{MaxRequests: 3, Window: time.Hour},
		Lock:          initiator.New(client, sessions, env.clock, initiator.Config{IdleTimeout: 15 * time.Second, ClaimTTL: 180 * time.Second}),
		Sessions:      sessions,
		Replies:       env.replies,
		Language:      models.LangEnglish,
		DefaultOffset: time.Hour,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		env.jobs.Shutdown(ctx)
		client.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return env
}

func private(user int64, text string) incoming {
	return incoming{ChatID: user, ChatType: telego.ChatTypePrivate, UserID: user, Lang: models.LangEnglish, Text: text}
}

func inGroup(user int64, text string) incoming {
	return incoming{ChatID: group, ChatType: telego.ChatTypeSupergroup, UserID: user, Lang: models.LangEnglish, Text: text}
}

// dispatch mirrors the middleware and the command routing without telego
func (e *testEnv) dispatch(in incoming) (string, bool) {
	ctx := context.Background()
	if in.isGroup() && !e.h.admit(ctx, in) {
		return "", false
	}

	cmd, _ := parseCommand(in.Text)
	routes := map[string]commandFunc{
		"start":     e.h.onStart,
		"help":      e.h.onHelp,
		"use":       e.h.onUse,
		"schedule":  e.h.onSchedule,
		"posts":     e.h.onPosts,
		"cancel":    e.h.onCancel,
		"postpone":  e.h.onPostpone,
		"published": e.h.onPublished,
		"":          e.h.onContent,
	}
	reply := ""
	if fn, ok := routes[cmd]; ok {
		reply = fn(ctx, in)
	}
	if in.isGroup() {
		e.h.releaseIfIdle(ctx, in)
	}
	return reply, true
}

func (e *testEnv) holder(t *testing.T) (int64, bool) {
	t.Helper()
	id, ok, err := e.h.lock.Holder(context.Background(), group)
	require.NoError(t, err)
	return id, ok
}

// postIDFrom picks the id out of "Post <id> ..." and "Reminder for post <id> ..."
func postIDFrom(reply string) string {
	fields := strings.Fields(reply)
	for i := 0; i+1 < len(fields); i++ {
		if strings.EqualFold(fields[i], "post") {
			return fields[i+1]
		}
	}
	return ""
}

func TestScheduleFlow_Private(t *testing.T) {
	env := newTestEnv(t)

	reply, _ := env.dispatch(private(alice, "/schedule 10.03.2026 14:00 30"))
	assert.Equal(t, "Publishing at 10.03.2026 14:00. Now send the post: text, or a photo with a caption.", reply)

	reply, _ = env.dispatch(private(alice, "  Spring sale starts today  "))
	assert.True(t, strings.HasSuffix(reply, "scheduled for 10.03.2026 14:00. Reminder at 10.03.2026 13:30."), reply)

	post, err := env.h.posts.Get(context.Background(), postIDFrom(reply))
	require.NoError(t, err)
	assert.Equal(t, "Spring sale starts today", post.Content.Text)
	assert.Equal(t, alice, post.ChatID)
	assert.True(t, post.AutoPublish)

	idle, err := env.h.sessions.IsIdle(context.Background(), alice, alice)
	require.NoError(t, err)
	assert.True(t, idle, "the flow ends with the content")

	reply, _ = env.dispatch(private(alice, "more chatter"))
	assert.Empty(t, reply)
}

func TestScheduleFlow_ManualPhoto(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(private(alice, "/schedule 10.03.2026 14:00 10 manual"))
	in := private(alice, "")
	reply := env.h.onContent(context.Background(), in)
	assert.Equal(t, "The post is empty. Send text or a photo.", reply)

	in.PhotoID = "AgADphoto"
	reply, _ = env.dispatch(in)
	assert.True(t, strings.HasSuffix(reply, "set at 10.03.2026 13:50. It will not be published automatically."), reply)

	post, err := env.h.posts.Get(context.Background(), postIDFrom(reply))
	require.NoError(t, err)
	assert.Equal(t, "AgADphoto", post.Content.PhotoFileID)
	assert.False(t, post.AutoPublish)
}

func TestSchedule_Rejections(t *testing.T) {
	env := newTestEnv(t)

	reply, _ := env.dispatch(private(alice, "/schedule tomorrow"))
	assert.Equal(t, "Usage: /schedule DD.MM.YYYY HH:MM [minutes] [manual]", reply)

	reply, _ = env.dispatch(private(alice, "/schedule 31.02.2026 14:00"))
	assert.True(t, strings.HasPrefix(reply, "Cannot do that: "), reply)

	// parses, but is already in the past when the content arrives
	env.dispatch(private(alice, "/schedule 10.03.2026 12:00"))
	reply, _ = env.dispatch(private(alice, "late post"))
	assert.True(t, strings.HasPrefix(reply, "Cannot do that: "), reply)

	posts, err := env.h.posts.ListUserPosts(context.Background(), alice, "")
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestSchedule_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	// a failed attempt does not use quota
	env.dispatch(private(alice, "/schedule 10.03.2026 12:00"))
	env.dispatch(private(alice, "too late"))

	for i := 0; i < 3; i++ {
		env.dispatch(private(alice, "/schedule 10.03.2026 14:00"))
		reply, _ := env.dispatch(private(alice, "post"))
		require.Contains(t, reply, "scheduled for")
	}

	env.dispatch(private(alice, "/schedule 10.03.2026 15:00"))
	reply, _ := env.dispatch(private(alice, "one too many"))
	assert.Equal(t, "Too many operations. Try again in 1h0m0s.", reply)

	posts, err := env.h.posts.ListUserPosts(context.Background(), alice, "")
	require.NoError(t, err)
	assert.Len(t, posts, 3)

	// other users have their own quota
	env.dispatch(private(bob, "/schedule 10.03.2026 15:00"))
	reply, _ = env.dispatch(private(bob, "bob's post"))
	assert.Contains(t, reply, "scheduled for")
}

func TestPostsCancelPostpone(t *testing.T) {
	env := newTestEnv(t)

	reply, _ := env.dispatch(private(alice, "/posts"))
	assert.Equal(t, "You have no scheduled posts.", reply)

	env.dispatch(private(alice, "/schedule 10.03.2026 18:00 manual"))
	reply, _ = env.dispatch(private(alice, "evening post"))
	id := postIDFrom(reply)

	reply, _ = env.dispatch(private(alice, "/posts"))
	assert.Equal(t, "Your scheduled posts:\n• "+id+" at 10.03.2026 18:00 (reminder only)", reply)

	reply, _ = env.dispatch(private(bob, "/cancel "+id))
	assert.Equal(t, "Post not found.", reply, "posts of other users are hidden")

	reply, _ = env.dispatch(private(alice, "/postpone "+id+" 11.03.2026 09:30"))
	assert.Equal(t, "Post "+id+" moved to 11.03.2026 09:30.", reply)
	post, err := env.h.posts.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, post.RemindOffset, "offset kept when not given")

	reply, _ = env.dispatch(private(alice, "/postpone "+id+" 11.03.2026"))
	assert.Equal(t, "Usage: /postpone ID DD.MM.YYYY HH:MM [minutes]", reply)

	reply, _ = env.dispatch(private(alice, "/cancel"))
	assert.Equal(t, "Usage: /cancel ID", reply)

	reply, _ = env.dispatch(private(alice, "/cancel "+id))
	assert.Equal(t, "Post "+id+" cancelled.", reply)

	reply, _ = env.dispatch(private(alice, "/postpone "+id+" 12.03.2026 09:30 5"))
	assert.True(t, strings.HasPrefix(reply, "Cannot do that: "), reply)

	reply, _ = env.dispatch(private(alice, "/posts"))
	assert.Equal(t, "You have no scheduled posts.", reply)
}

func TestPublishedClosesManualPost(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(private(alice, "/schedule 10.03.2026 18:00 manual"))
	reply, _ := env.dispatch(private(alice, "evening post"))
	id := postIDFrom(reply)

	reply, _ = env.dispatch(private(alice, "/published"))
	assert.Equal(t, "Usage: /published ID", reply)

	reply, _ = env.dispatch(private(bob, "/published "+id))
	assert.Equal(t, "Post not found.", reply)

	reply, _ = env.dispatch(private(alice, "/published "+id))
	assert.Equal(t, "Post "+id+" marked as published.", reply)

	reply, _ = env.dispatch(private(alice, "/posts"))
	assert.Equal(t, "You have no scheduled posts.", reply)

	env.dispatch(private(alice, "/schedule 10.03.2026 18:00"))
	reply, _ = env.dispatch(private(alice, "auto post"))
	reply, _ = env.dispatch(private(alice, "/published "+postIDFrom(reply)))
	assert.True(t, strings.HasPrefix(reply, "Cannot do that: "), reply)
}

func TestHelpAndStart(t *testing.T) {
	env := newTestEnv(t)

	reply, _ := env.dispatch(private(alice, "/help"))
	assert.True(t, strings.HasPrefix(reply, "Post Planner Bot\n"))
	assert.Contains(t, reply, "Times are in UTC+03:00. [minutes] is the reminder lead time, default 60.")

	env.dispatch(private(alice, "/schedule 10.03.2026 14:00"))
	reply, _ = env.dispatch(private(alice, "/start"))
	assert.True(t, strings.HasPrefix(reply, "Ready. Use /schedule to plan a post."))

	reply, _ = env.dispatch(private(alice, "content after reset"))
	assert.Empty(t, reply)

	ru := private(alice, "/help")
	ru.Lang = models.LangRussian
	reply, _ = env.dispatch(ru)
	assert.True(t, strings.HasPrefix(reply, "Планировщик постов"))

	reply, _ = env.dispatch(private(alice, "/use"))
	assert.Equal(t, "This command only works in a group chat.", reply)
}

func TestGroup_OneInitiatorAtATime(t *testing.T) {
	env := newTestEnv(t)

	_, ok := env.dispatch(inGroup(alice, "/schedule 10.03.2026 14:00"))
	require.True(t, ok)
	holder, held := env.holder(t)
	require.True(t, held, "a flow in progress keeps the claim")
	assert.Equal(t, alice, holder)

	env.clock.Step(5 * time.Second)
	_, ok = env.dispatch(inGroup(bob, "/posts"))
	assert.False(t, ok)
	assert.Equal(t, sent{ChatID: group, Text: "Someone else is using the bot in this chat right now."}, env.replies.all()[0])

	env.clock.Step(5 * time.Second)
	reply, ok := env.dispatch(inGroup(alice, "group announcement"))
	require.True(t, ok)
	assert.Contains(t, reply, "scheduled for")
	_, held = env.holder(t)
	assert.False(t, held, "finished flows give the chat back")

	reply, ok = env.dispatch(inGroup(bob, "/posts"))
	assert.True(t, ok)
	assert.Equal(t, "You have no scheduled posts.", reply)
	_, held = env.holder(t)
	assert.False(t, held, "one-shot commands do not keep the claim")
}

func TestGroup_ChatterIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	_, ok := env.dispatch(inGroup(bob, "hello everyone"))
	assert.False(t, ok)
	assert.Empty(t, env.replies.all())
	_, held := env.holder(t)
	assert.False(t, held)
}

func TestGroup_UseAndStart(t *testing.T) {
	env := newTestEnv(t)

	reply, ok := env.dispatch(inGroup(alice, "/use"))
	require.True(t, ok)
	assert.Equal(t, "You are now the one using the bot in this chat.", reply)
	holder, held := env.holder(t)
	require.True(t, held)
	assert.Equal(t, alice, holder)

	reply, _ = env.dispatch(inGroup(alice, "/use"))
	assert.Equal(t, "You are already using the bot in this chat.", reply)

	// alice is active, so an explicit start does not take over
	_, ok = env.dispatch(inGroup(bob, "/use"))
	assert.False(t, ok)

	// help and start are never blocked
	_, ok = env.dispatch(inGroup(bob, "/help"))
	assert.True(t, ok)

	_, ok = env.dispatch(inGroup(alice, "/start"))
	require.True(t, ok)
	_, held = env.holder(t)
	assert.False(t, held)

	reply, ok = env.dispatch(inGroup(bob, "/use"))
	require.True(t, ok)
	assert.Equal(t, "You are now the one using the bot in this chat.", reply)
}

func TestGroup_ExplicitTakeoverFromIdleHolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// alice holds the claim but has no flow in progress
	d, err := env.h.lock.TryClaimOrCheck(ctx, group, alice, false)
	require.NoError(t, err)
	require.True(t, d.Allowed())

	_, ok := env.dispatch(inGroup(bob, "/posts"))
	assert.False(t, ok, "implicit requests do not take over")

	reply, ok := env.dispatch(inGroup(bob, "/use"))
	require.True(t, ok)
	assert.Equal(t, "You are now the one using the bot in this chat.", reply)
	holder, _ := env.holder(t)
	assert.Equal(t, bob, holder)
}

func TestGroup_IdleTimeoutFreesTheChat(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(inGroup(alice, "/schedule 10.03.2026 14:00"))
	env.clock.Step(16 * time.Second)

	reply, ok := env.dispatch(inGroup(bob, "/posts"))
	assert.True(t, ok)
	assert.Equal(t, "You have no scheduled posts.", reply)
}

func TestGroup_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	_, ok := env.dispatch(inGroup(alice, "/posts"))
	assert.False(t, ok)
	require.Len(t, env.replies.all(), 1)
	assert.Equal(t, "Something went wrong. Try again later.", env.replies.all()[0].Text)
}

func TestFromMessage(t *testing.T) {
	h := New(Deps{Language: models.LangRussian})

	_, ok := h.fromMessage(telego.Message{Chat: telego.Chat{ID: 1}})
	assert.False(t, ok, "no sender")
	_, ok = h.fromMessage(telego.Message{From: &telego.User{ID: 2, IsBot: true}})
	assert.False(t, ok, "bots are ignored")

	in, ok := h.fromMessage(telego.Message{
		Chat:    telego.Chat{ID: group, Type: telego.ChatTypeSupergroup},
		From:    &telego.User{ID: alice, LanguageCode: "en-GB"},
		Caption: "caption",
		Photo:   []telego.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	})
	require.True(t, ok)
	assert.Equal(t, incoming{
		ChatID: group, ChatType: telego.ChatTypeSupergroup, UserID: alice,
		Lang: models.LangEnglish, Text: "caption", PhotoID: "large",
	}, in)
	assert.True(t, in.isGroup())

	in, _ = h.fromMessage(telego.Message{Chat: telego.Chat{ID: alice, Type: telego.ChatTypePrivate}, From: &telego.User{ID: alice}, Text: "hi"})
	assert.Equal(t, models.LangRussian, in.Lang, "configured language when the client sends none")
	assert.False(t, in.isGroup())
}

func TestErrorText(t *testing.T) {
	h := New(Deps{})
	assert.Equal(t, "Too many operations. Try again in 1s.",
		h.errorText(models.LangEnglish, &ratelimit.ExceededError{Key: "k", RetryAfter: 10 * time.Millisecond}))
	assert.Equal(t, "Post not found.", h.errorText(models.LangEnglish, service.ErrNotFound))
	assert.Equal(t, "Something went wrong. Try again later.", h.errorText(models.LangEnglish, context.DeadlineExceeded))
}
