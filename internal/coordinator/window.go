package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sorted set of request instants; score and member prefix are unix millis.
// Entries with score <= now-window have left the window.
var windowAddScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count < limit then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	redis.call("PEXPIRE", KEYS[1], window)
	return {1, count + 1}
end
return {0, count}
`)

var windowCountScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", tonumber(ARGV[1]) - tonumber(ARGV[2]))
return redis.call("ZCARD", KEYS[1])
`)

// WindowAdd purges expired entries and records now only when fewer than
// limit entries remain. count is the size of the window after the call.
func (c *Client) WindowAdd(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, int, error) {
	allowed, count, _, err := c.WindowReserve(ctx, key, now, window, limit)
	return allowed, count, err
}

// WindowReserve is WindowAdd that also returns the recorded member, so the
// entry can be taken back with WindowRemove. member is empty when rejected.
func (c *Client) WindowReserve(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (allowed bool, count int, member string, err error) {
	ts := millis(now)
	member = strconv.FormatInt(ts, 10) + "-" + uuid.NewString()

	res, err := windowAddScript.Run(ctx, c.rdb, []string{key},
		ts, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, 0, "", fmt.Errorf("window add %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, "", fmt.Errorf("window add %s: unexpected reply %v", key, res)
	}
	if res[0] != 1 {
		return false, int(res[1]), "", nil
	}
	return true, int(res[1]), member, nil
}

// WindowRemove drops one recorded entry.
func (c *Client) WindowRemove(ctx context.Context, key, member string) error {
	if err := c.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("window remove %s: %w", key, err)
	}
	return nil
}

// WindowCount purges expired entries and returns how many remain.
func (c *Client) WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	n, err := windowCountScript.Run(ctx, c.rdb, []string{key}, millis(now), window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("window count %s: %w", key, err)
	}
	return int(n), nil
}

// WindowOldest returns the oldest retained instant.
func (c *Client) WindowOldest(ctx context.Context, key string) (time.Time, bool, error) {
	res, err := c.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(res) == 0) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("window oldest %s: %w", key, err)
	}
	return time.UnixMilli(int64(res[0].Score)).UTC(), true, nil
}
