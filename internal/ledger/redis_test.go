package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("SESSIONGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SESSIONGUARD_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisLedger_Integration(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	l := NewRedisLedger(client)

	session := "it-" + t.Name()
	t.Cleanup(func() { client.Del(ctx, ledgerKey(session, day)) })

	total, err := l.CurrentTotal(ctx, session, day)
	require.NoError(t, err)
	assert.Zero(t, total)

	total, err = l.RecordSpend(ctx, session, day, 100, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), total)

	total, err = l.RecordSpend(ctx, session, day, 100, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), total)

	_, err = l.RecordSpend(ctx, session, day, 100, 250)
	require.ErrorIs(t, err, ErrCapExceeded)

	total, err = l.CurrentTotal(ctx, session, day)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), total)
}

func TestRedisLedger_RejectsUnrepresentableAmounts(t *testing.T) {
	l := NewRedisLedger(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err := l.RecordSpend(context.Background(), "s", day, maxRedisAmount+1, maxRedisAmount+1)
	require.ErrorIs(t, err, ErrAmountOutOfRange)
}
