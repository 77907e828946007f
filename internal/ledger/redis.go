package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const ledgerKeyPrefix = "sessionguard:ledger:"

// Lua numbers are doubles; amounts above this cannot be compared exactly.
const maxRedisAmount = 1 << 53

// recordSpendScript compares and increments in one server-side step.
// Returns {1, newTotal} on success and {0, currentTotal} when the cap would be exceeded.
var recordSpendScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local amt = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if cur + amt > cap then
  return {0, cur}
end
local total = redis.call('INCRBY', KEYS[1], amt)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, total}
`)

// RedisLedger is a Ledger shared between server instances.
type RedisLedger struct {
	client    redis.UniversalClient
	retention time.Duration
}

// RedisLedgerOption configures a RedisLedger.
type RedisLedgerOption func(*RedisLedger)

// WithRetention sets how long window totals are kept after the last write.
func WithRetention(d time.Duration) RedisLedgerOption {
	return func(l *RedisLedger) {
		if d > 0 {
			l.retention = d
		}
	}
}

// NewRedisLedger constructs a Redis-backed ledger. The client lifecycle is
// managed by the caller.
func NewRedisLedger(client redis.UniversalClient, opts ...RedisLedgerOption) *RedisLedger {
	l := &RedisLedger{client: client, retention: 2 * DefaultWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func ledgerKey(sessionID string, window time.Time) string {
	return ledgerKeyPrefix + sessionID + ":" + strconv.FormatInt(window.Unix(), 10)
}

// RecordSpend implements Ledger.
func (l *RedisLedger) RecordSpend(ctx context.Context, sessionID string, window time.Time, amount, dailyCap uint64) (uint64, error) {
	if amount == 0 {
		return l.CurrentTotal(ctx, sessionID, window)
	}
	if amount > maxRedisAmount || dailyCap > maxRedisAmount {
		return 0, ErrAmountOutOfRange
	}
	res, err := recordSpendScript.Run(ctx, l.client,
		[]string{ledgerKey(sessionID, window)},
		amount, dailyCap, l.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis ledger record spend: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redis ledger: unexpected script reply %v", res)
	}
	if res[0] == 0 {
		return uint64(res[1]), ErrCapExceeded
	}
	return uint64(res[1]), nil
}

// CurrentTotal implements Ledger.
func (l *RedisLedger) CurrentTotal(ctx context.Context, sessionID string, window time.Time) (uint64, error) {
	v, err := l.client.Get(ctx, ledgerKey(sessionID, window)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis ledger current total: %w", err)
	}
	return v, nil
}
