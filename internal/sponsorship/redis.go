package sponsorship

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const sponsoredKeyPrefix = "sessionguard:sponsored:"

// Lua numbers are doubles; larger values cannot be compared exactly.
const maxScriptAmount = 1 << 53

// reserveScript checks the budget and increments in one server-side step.
// Returns {1, newTotal} on success and {0, currentTotal} when over budget.
var reserveScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local amt = tonumber(ARGV[1])
local budget = tonumber(ARGV[2])
if cur + amt > budget then
  return {0, cur}
end
local total = redis.call('INCRBY', KEYS[1], amt)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, total}
`)

// RedisTracker keeps sponsored totals in Redis so every server instance
// checks the same budget.
type RedisTracker struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisTracker creates a RedisTracker. Totals are kept for retention after
// the last write (two days when retention is not positive).
func NewRedisTracker(client redis.UniversalClient, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &RedisTracker{client: client, retention: retention}
}

func sponsoredKey(projectID string, window time.Time) string {
	return sponsoredKeyPrefix + projectID + ":" + strconv.FormatInt(window.Unix(), 10)
}

// SponsoredTotal implements Tracker.
func (t *RedisTracker) SponsoredTotal(ctx context.Context, projectID string, window time.Time) (uint64, error) {
	v, err := t.client.Get(ctx, sponsoredKey(projectID, window)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis sponsored total: %w", err)
	}
	return v, nil
}

// AddSponsored implements Tracker. Redis counters are signed 64-bit, so
// amounts are clamped to MaxInt64.
func (t *RedisTracker) AddSponsored(ctx context.Context, projectID string, window time.Time, amount uint64) (uint64, error) {
	key := sponsoredKey(projectID, window)
	delta := int64(math.MaxInt64)
	if amount < math.MaxInt64 {
		delta = int64(amount)
	}

	pipe := t.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, t.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis add sponsored: %w", err)
	}
	return uint64(incr.Val()), nil
}

// ReserveSponsored implements Tracker. Budgets above 2^53 are treated as
// 2^53; larger amounts can never fit and are refused.
func (t *RedisTracker) ReserveSponsored(ctx context.Context, projectID string, window time.Time, amount, budget uint64) (uint64, error) {
	budget = min(budget, maxScriptAmount)
	if amount > budget {
		total, err := t.SponsoredTotal(ctx, projectID, window)
		if err != nil {
			return 0, err
		}
		return total, ErrBudgetExceeded
	}
	res, err := reserveScript.Run(ctx, t.client,
		[]string{sponsoredKey(projectID, window)},
		amount, budget, t.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis reserve sponsored: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redis reserve sponsored: unexpected script reply %v", res)
	}
	if res[0] == 0 {
		return uint64(res[1]), ErrBudgetExceeded
	}
	return uint64(res[1]), nil
}
