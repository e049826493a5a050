// Package initiator arbitrates which user may drive a multi-step flow in a
// shared chat. The claim is released on explicit release, after the idle
// timeout, or when the holder's session returns to idle.
package initiator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tg-postplanner/internal/coordinator"
	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/metrics"

	"k8s.io/utils/clock"
)

// Outcome of a claim attempt.
type Outcome int

const (
	Granted Outcome = iota
	AlreadyHolder
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case AlreadyHolder:
		return "already_holder"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Decision is the result of TryClaimOrCheck. HolderID is the holder after the call.
type Decision struct {
	Outcome  Outcome
	HolderID int64
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Granted || d.Outcome == AlreadyHolder
}

// SessionInspector tells whether a user's conversation has no active flow.
type SessionInspector interface {
	IsIdle(ctx context.Context, chatID, userID int64) (bool, error)
}

// Store is the subset of the coordinator the lock needs.
type Store interface {
	Key(parts ...string) string
	Get(ctx context.Context, key string) (string, bool, error)
	Claim(ctx context.Context, req coordinator.ClaimRequest) (coordinator.ClaimResult, string, error)
	ReleaseClaim(ctx context.Context, holderKey, activityKey string) error
	ReleaseClaimIf(ctx context.Context, holderKey, activityKey, holder string) (bool, error)
}

var _ Store = (*coordinator.Client)(nil)

// Config controls claim expiry.
type Config struct {
	IdleTimeout time.Duration
	ClaimTTL    time.Duration
}

// Lock is the per-chat initiator lock.
type Lock struct {
	store     Store
	inspector SessionInspector
	clock     clock.PassiveClock
	cfg       Config
}

// New creates a lock. inspector may be nil, in which case an explicit start
// never takes over an active claim.
func New(store Store, inspector SessionInspector, clk clock.PassiveClock, cfg Config) *Lock {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 180 * time.Second
	}
	return &Lock{store: store, inspector: inspector, clock: clk, cfg: cfg}
}

func (l *Lock) keys(chatID int64) (string, string) {
	holder := l.store.Key("chat", strconv.FormatInt(chatID, 10), "initiator")
	return holder, holder + ":last_activity"
}

// TryClaimOrCheck grants the claim to userID, refreshes it when userID already
// holds it, or rejects. With explicitStart set, an active holder whose session
// is idle is replaced. Any store or inspector error is returned and must be
// treated as a rejection by the caller.
func (l *Lock) TryClaimOrCheck(ctx context.Context, chatID, userID int64, explicitStart bool) (Decision, error) {
	d, err := l.tryClaim(ctx, chatID, userID, explicitStart)
	if err != nil {
		metrics.InitiatorDecisions.WithLabelValues("error").Inc()
		return Decision{Outcome: Rejected}, err
	}
	metrics.InitiatorDecisions.WithLabelValues(d.Outcome.String()).Inc()
	return d, nil
}

func (l *Lock) tryClaim(ctx context.Context, chatID, userID int64, explicitStart bool) (Decision, error) {
	d, err := l.claim(ctx, chatID, userID, "")
	if err != nil || d.Outcome != Rejected || !explicitStart || l.inspector == nil {
		return d, err
	}

	idle, err := l.inspector.IsIdle(ctx, chatID, d.HolderID)
	if err != nil {
		return Decision{Outcome: Rejected, HolderID: d.HolderID}, fmt.Errorf("inspect holder %d session: %w", d.HolderID, err)
	}
	if !idle {
		return d, nil
	}

	logger.Debugf("Chat %d: user %d takes over the idle claim of %d", chatID, userID, d.HolderID)
	return l.claim(ctx, chatID, userID, strconv.FormatInt(d.HolderID, 10))
}

func (l *Lock) claim(ctx context.Context, chatID, userID int64, takeoverFrom string) (Decision, error) {
	holderKey, activityKey := l.keys(chatID)
	res, holder, err := l.store.Claim(ctx, coordinator.ClaimRequest{
		HolderKey:    holderKey,
		ActivityKey:  activityKey,
		Holder:       strconv.FormatInt(userID, 10),
		Now:          l.clock.Now(),
		IdleTimeout:  l.cfg.IdleTimeout,
		TTL:          l.cfg.ClaimTTL,
		TakeoverFrom: takeoverFrom,
	})
	if err != nil {
		return Decision{Outcome: Rejected}, err
	}

	holderID, err := strconv.ParseInt(holder, 10, 64)
	if err != nil {
		return Decision{Outcome: Rejected}, fmt.Errorf("malformed initiator %q in chat %d: %w", holder, chatID, err)
	}

	switch res {
	case coordinator.ClaimGranted:
		return Decision{Outcome: Granted, HolderID: holderID}, nil
	case coordinator.ClaimRefreshed:
		return Decision{Outcome: AlreadyHolder, HolderID: holderID}, nil
	default:
		return Decision{Outcome: Rejected, HolderID: holderID}, nil
	}
}

// Release clears the claim regardless of the holder.
func (l *Lock) Release(ctx context.Context, chatID int64) error {
	holderKey, activityKey := l.keys(chatID)
	return l.store.ReleaseClaim(ctx, holderKey, activityKey)
}

// ReleaseIfHolder clears the claim only while userID holds it.
func (l *Lock) ReleaseIfHolder(ctx context.Context, chatID, userID int64) (bool, error) {
	holderKey, activityKey := l.keys(chatID)
	return l.store.ReleaseClaimIf(ctx, holderKey, activityKey, strconv.FormatInt(userID, 10))
}

// Holder returns the current holder, if any. A holder whose activity is older
// than the idle timeout is still reported until someone claims over it.
func (l *Lock) Holder(ctx context.Context, chatID int64) (int64, bool, error) {
	holderKey, _ := l.keys(chatID)
	val, ok, err := l.store.Get(ctx, holderKey)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed initiator %q in chat %d: %w", val, chatID, err)
	}
	return id, true, nil
}
