package sponsorship

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var today = time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

func exerciseTracker(t *testing.T, tr Tracker, project string) {
	t.Helper()
	ctx := context.Background()

	total, err := tr.SponsoredTotal(ctx, project, today)
	require.NoError(t, err)
	assert.Zero(t, total)

	total, err = tr.AddSponsored(ctx, project, today, 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), total)

	total, err = tr.AddSponsored(ctx, project, today, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), total)

	total, err = tr.ReserveSponsored(ctx, project, today, 25, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), total, "reserving exactly up to the budget is allowed")

	total, err = tr.ReserveSponsored(ctx, project, today, 1, 100)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, uint64(100), total)

	total, err = tr.SponsoredTotal(ctx, project, today)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), total, "a refused reservation leaves the total unchanged")

	tomorrow := today.Add(24 * time.Hour)
	total, err = tr.SponsoredTotal(ctx, project, tomorrow)
	require.NoError(t, err)
	assert.Zero(t, total, "windows are independent")

	total, err = tr.SponsoredTotal(ctx, project+"-other", today)
	require.NoError(t, err)
	assert.Zero(t, total, "projects are independent")
}

func TestMemoryTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryTracker(), "proj")

	t.Run("saturates instead of wrapping", func(t *testing.T) {
		tr := NewMemoryTracker()
		ctx := context.Background()
		_, err := tr.AddSponsored(ctx, "p", today, ^uint64(0)-1)
		require.NoError(t, err)
		total, err := tr.AddSponsored(ctx, "p", today, 10)
		require.NoError(t, err)
		assert.Equal(t, ^uint64(0), total)
	})

	t.Run("concurrent adds are all counted", func(t *testing.T) {
		tr := NewMemoryTracker()
		ctx := context.Background()
		var eg errgroup.Group
		for range 100 {
			eg.Go(func() error {
				_, err := tr.AddSponsored(ctx, "p", today, 3)
				return err
			})
		}
		require.NoError(t, eg.Wait())
		total, err := tr.SponsoredTotal(ctx, "p", today)
		require.NoError(t, err)
		assert.Equal(t, uint64(300), total)
	})
}

func TestMemoryTracker_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("amounts larger than the budget never overflow", func(t *testing.T) {
		tr := NewMemoryTracker()
		_, err := tr.ReserveSponsored(ctx, "p", today, 10, 50)
		require.NoError(t, err)
		total, err := tr.ReserveSponsored(ctx, "p", today, ^uint64(0), 50)
		require.ErrorIs(t, err, ErrBudgetExceeded)
		assert.Equal(t, uint64(10), total)
	})

	t.Run("concurrent reservations stop at the budget", func(t *testing.T) {
		tr := NewMemoryTracker()
		var eg errgroup.Group
		for range 100 {
			eg.Go(func() error {
				_, err := tr.ReserveSponsored(ctx, "p", today, 7, 100)
				if err != nil && !errors.Is(err, ErrBudgetExceeded) {
					return err
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		total, err := tr.SponsoredTotal(ctx, "p", today)
		require.NoError(t, err)
		assert.Equal(t, uint64(98), total)
	})
}

func TestRedisTracker_Integration(t *testing.T) {
	url := os.Getenv("SESSIONGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SESSIONGUARD_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	project := "it-" + t.Name()
	ctx := context.Background()
	t.Cleanup(func() {
		client.Del(ctx, sponsoredKey(project, today), sponsoredKey(project, today.Add(24*time.Hour)))
	})

	tr := NewRedisTracker(client, time.Hour)
	exerciseTracker(t, tr, project)

	ttl, err := client.TTL(ctx, sponsoredKey(project, today)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
