// Package ratelimit implements a sliding-window limiter on top of the shared
// coordinator store. Exactly MaxRequests events are permitted in any trailing
// Window, recomputed on every call.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tg-postplanner/internal/coordinator"
	"tg-postplanner/internal/metrics"

	"k8s.io/utils/clock"
)

// ErrRateLimitExceeded is matched by every *ExceededError.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ExceededError carries how long the caller should wait.
type ExceededError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.RetryAfter.Round(time.Second))
	}
	return "rate limit exceeded for " + e.Key
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Policy is a quota over a trailing window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Store is the subset of the coordinator the limiter needs.
type Store interface {
	Key(parts ...string) string
	WindowAdd(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, int, error)
	WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	WindowReserve(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, int, string, error)
	WindowRemove(ctx context.Context, key, member string) error
	WindowOldest(ctx context.Context, key string) (time.Time, bool, error)
}

var _ Store = (*coordinator.Client)(nil)

// Limiter applies policies to caller-defined keys.
type Limiter struct {
	store Store
	clock clock.PassiveClock
}

// New creates a limiter reading time from clk.
func New(store Store, clk clock.PassiveClock) *Limiter {
	return &Limiter{store: store, clock: clk}
}

// UserOperationsKey is the key for the per-user operation quota.
func UserOperationsKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":operations"
}

func (l *Limiter) key(key string) string {
	return l.store.Key("ratelimit", key)
}

// Allow checks and records together: a rejected request does not consume quota.
// On store errors it fails closed and returns false with the error.
func (l *Limiter) Allow(ctx context.Context, key string, p Policy) (bool, error) {
	allowed, _, err := l.store.WindowAdd(ctx, l.key(key), l.clock.Now(), p.Window, p.MaxRequests)
	if err != nil {
		return false, err
	}
	if !allowed {
		metrics.RateLimitRejections.Inc()
	}
	return allowed, nil
}

// Remaining reports the unused quota without recording anything.
func (l *Limiter) Remaining(ctx context.Context, key string, p Policy) (int, error) {
	n, err := l.store.WindowCount(ctx, l.key(key), l.clock.Now(), p.Window)
	if err != nil {
		return 0, err
	}
	if left := p.MaxRequests - n; left > 0 {
		return left, nil
	}
	return 0, nil
}

// Track records one event, failing with *ExceededError when the window is full.
func (l *Limiter) Track(ctx context.Context, key string, p Policy) error {
	allowed, err := l.Allow(ctx, key, p)
	if err != nil {
		return err
	}
	if !allowed {
		return l.exceeded(ctx, key, p)
	}
	return nil
}

// RetryAfter is how long until the oldest entry leaves a full window.
// It is zero while quota remains.
func (l *Limiter) RetryAfter(ctx context.Context, key string, p Policy) (time.Duration, error) {
	left, err := l.Remaining(ctx, key, p)
	if err != nil || left > 0 {
		return 0, err
	}
	oldest, ok, err := l.store.WindowOldest(ctx, l.key(key))
	if err != nil || !ok {
		return 0, err
	}
	if wait := oldest.Add(p.Window).Sub(l.clock.Now()); wait > 0 {
		return wait, nil
	}
	return 0, nil
}

func (l *Limiter) exceeded(ctx context.Context, key string, p Policy) error {
	wait, err := l.RetryAfter(ctx, key, p)
	if err != nil {
		return err
	}
	return &ExceededError{Key: key, RetryAfter: wait}
}
