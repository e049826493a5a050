package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClaimResult is the outcome of a Claim call.
type ClaimResult int

const (
	ClaimGranted ClaimResult = iota
	ClaimRefreshed
	ClaimRejected
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimGranted:
		return "granted"
	case ClaimRefreshed:
		return "refreshed"
	case ClaimRejected:
		return "rejected"
	}
	return fmt.Sprintf("ClaimResult(%d)", int(r))
}

// KEYS: holder, last_activity
// ARGV: user, now_ms, idle_ms, ttl_ms, takeover_from ("" for none)
//
// A refresh keeps the holder key's remaining TTL so the claim TTL stays an
// absolute bound from the moment of the grant.
var claimScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == ARGV[1] then
	local pttl = redis.call("PTTL", KEYS[1])
	if pttl <= 0 then
		pttl = tonumber(ARGV[4])
	end
	redis.call("SET", KEYS[2], ARGV[2], "PX", pttl)
	return {1, holder}
end
local free = not holder
if not free then
	local last = redis.call("GET", KEYS[2])
	if not last or tonumber(ARGV[2]) - tonumber(last) > tonumber(ARGV[3]) then
		free = true
	elseif ARGV[5] ~= "" and holder == ARGV[5] then
		free = true
	end
end
if free then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[4])
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[4])
	return {0, ARGV[1]}
end
return {2, holder}
`)

var releaseIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
return 0
`)

// ClaimRequest describes one claim attempt over a holder/activity key pair.
type ClaimRequest struct {
	HolderKey   string
	ActivityKey string
	Holder      string
	Now         time.Time
	IdleTimeout time.Duration
	TTL         time.Duration
	// TakeoverFrom, when set, lets the caller replace that specific holder
	// even while it is still active.
	TakeoverFrom string
}

// Claim atomically grants, refreshes or rejects a claim and returns the
// holder after the call.
func (c *Client) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, string, error) {
	res, err := claimScript.Run(ctx, c.rdb, []string{req.HolderKey, req.ActivityKey},
		req.Holder,
		millis(req.Now),
		req.IdleTimeout.Milliseconds(),
		req.TTL.Milliseconds(),
		req.TakeoverFrom,
	).Slice()
	if err != nil {
		return ClaimRejected, "", fmt.Errorf("claim %s: %w", req.HolderKey, err)
	}
	if len(res) != 2 {
		return ClaimRejected, "", fmt.Errorf("claim %s: unexpected reply %v", req.HolderKey, res)
	}

	code, ok := res[0].(int64)
	if !ok {
		return ClaimRejected, "", fmt.Errorf("claim %s: unexpected result code %v", req.HolderKey, res[0])
	}
	holder, _ := res[1].(string)
	return ClaimResult(code), holder, nil
}

// ReleaseClaim drops the claim unconditionally.
func (c *Client) ReleaseClaim(ctx context.Context, holderKey, activityKey string) error {
	return c.Delete(ctx, holderKey, activityKey)
}

// ReleaseClaimIf drops the claim only while holder still owns it.
func (c *Client) ReleaseClaimIf(ctx context.Context, holderKey, activityKey, holder string) (bool, error) {
	n, err := releaseIfScript.Run(ctx, c.rdb, []string{holderKey, activityKey}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("release claim %s: %w", holderKey, err)
	}
	return n == 1, nil
}
