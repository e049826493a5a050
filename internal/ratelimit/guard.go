package ratelimit

import (
	"context"

	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/metrics"
)

// Guard reserves one slot of the window before running op and gives it back
// when op fails. Concurrent callers therefore never exceed MaxRequests, and
// failed operations never consume quota.
func (l *Limiter) Guard(ctx context.Context, key string, p Policy, op func(ctx context.Context) error) error {
	allowed, _, member, err := l.store.WindowReserve(ctx, l.key(key), l.clock.Now(), p.Window, p.MaxRequests)
	if err != nil {
		return err
	}
	if !allowed {
		metrics.RateLimitRejections.Inc()
		return l.exceeded(ctx, key, p)
	}

	if err := op(ctx); err != nil {
		// a lost refund only costs the user one slot until the window slides
		if rerr := l.store.WindowRemove(ctx, l.key(key), member); rerr != nil {
			logger.Warningf("Failed to release rate limit slot for %s: %v", key, rerr)
		}
		return err
	}
	return nil
}
