package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/org/sessionguard/internal/clock"
	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

const (
	owner    = models.Address("0x1111111111111111111111111111111111111111")
	target   = models.Address("0x2222222222222222222222222222222222222222")
	transfer = models.Selector("0xa9059cbb")
	approve  = models.Selector("0x095ea7b3")
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string { return fmt.Sprintf("sess-%d", s.n.Add(1)) }

type fixture struct {
	mgr    *Manager
	clock  *clock.Fake
	ledger *ledger.MemoryLedger
	store  *storage.MemoryBackend
}

func newFixture() *fixture {
	f := &fixture{
		clock:  clock.NewFake(start),
		ledger: ledger.NewMemoryLedger(),
		store:  storage.NewMemoryBackend(),
	}
	f.mgr = NewManager(f.store, f.ledger, WithClock(f.clock), WithIDGenerator(&seqIDs{}))
	return f
}

func scoped() models.Scope {
	return models.Scope{Contracts: []models.Address{target}, Methods: []models.Selector{transfer}}
}

func openReq(caps models.Caps, ttl time.Duration) OpenRequest {
	return OpenRequest{Owner: owner, SessionKeyRef: "0xsessionkey", Scope: scoped(), Caps: caps, TTL: ttl}
}

func use(id string, amount uint64) models.UseRequest {
	return models.UseRequest{SessionID: id, Target: target, Method: transfer, Amount: amount}
}

func TestOpenSession_Validation(t *testing.T) {
	ctx := context.Background()
	caps := models.Caps{PerTx: 10, Daily: 100}

	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"ttl below minimum", openReq(caps, 59*time.Second), ErrInvalidTTL},
		{"ttl above maximum", openReq(caps, 86401*time.Second), ErrInvalidTTL},
		{"per-tx cap above daily cap", openReq(models.Caps{PerTx: 101, Daily: 100}, time.Hour), ErrInvalidCaps},
		{"missing owner", OpenRequest{SessionKeyRef: "k", Caps: caps, TTL: time.Hour}, ErrInvalidRequest},
		{"missing key reference", OpenRequest{Owner: owner, Caps: caps, TTL: time.Hour}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.mgr.OpenSession(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)

			_, err = f.mgr.CurrentSession(ctx, owner)
			assert.ErrorIs(t, err, ErrSessionNotFound, "rejected requests store nothing")
		})
	}

	t.Run("boundary ttls and equal caps are accepted", func(t *testing.T) {
		f := newFixture()
		for _, ttl := range []time.Duration{models.MinSessionTTL, models.MaxSessionTTL} {
			g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 100, Daily: 100}, ttl))
			require.NoError(t, err)
			assert.Equal(t, start.Add(ttl), g.ExpiresAt)
			assert.Equal(t, models.SessionActive, g.State)
		}
	})
}

func TestOpenSession_Supersedes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	first, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour))
	require.NoError(t, err)
	second, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 20, Daily: 200}, time.Hour))
	require.NoError(t, err)

	active, err := f.mgr.GetActiveSession(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	old, err := f.mgr.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.ID, *old.SupersededBy)
	assert.Equal(t, models.SessionSuperseded, old.State)

	res, err := f.mgr.AuthorizeUse(ctx, use(first.ID, 5))
	require.NoError(t, err)
	assert.False(t, res.Approved, "superseded grant must not spend")
	assert.Equal(t, models.ReasonSessionNotFound, res.Reason)
	total, err := f.ledger.CurrentTotal(ctx, first.ID, ledger.WindowKey(start, ledger.DefaultWindow))
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.ErrorIs(t, f.mgr.Revoke(ctx, first.ID), ErrAlreadyTerminal)

	history, err := f.mgr.ListSessions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.SessionActive, history[0].State)
	assert.Equal(t, models.SessionSuperseded, history[1].State)

	res, err = f.mgr.AuthorizeUse(ctx, use(second.ID, 5))
	require.NoError(t, err)
	assert.True(t, res.Approved)
}

func TestExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 10, Daily: 100}, 60*time.Second))
	require.NoError(t, err)

	f.clock.Advance(59 * time.Second)
	active, err := f.mgr.GetActiveSession(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, active, "active one second before expiry")

	f.clock.Advance(time.Second)
	active, err = f.mgr.GetActiveSession(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, active, "expired exactly at expires_at")

	res, err := f.mgr.AuthorizeUse(ctx, use(g.ID, 1))
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, models.ReasonSessionExpired, res.Reason)

	stored, err := f.store.GetSession(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, stored.State, "expiry is persisted once observed")
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("active session is revoked once", func(t *testing.T) {
		f := newFixture()
		g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour))
		require.NoError(t, err)

		require.NoError(t, f.mgr.Revoke(ctx, g.ID))
		assert.ErrorIs(t, f.mgr.Revoke(ctx, g.ID), ErrAlreadyTerminal)

		got, err := f.mgr.GetSession(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionRevoked, got.State)
		require.NotNil(t, got.RevokedAt)
		assert.Equal(t, start, *got.RevokedAt)

		active, err := f.mgr.GetActiveSession(ctx, owner)
		require.NoError(t, err)
		assert.Nil(t, active)

		res, err := f.mgr.AuthorizeUse(ctx, use(g.ID, 1))
		require.NoError(t, err)
		assert.Equal(t, models.ReasonSessionRevoked, res.Reason)
	})

	t.Run("expired session is already terminal", func(t *testing.T) {
		f := newFixture()
		g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 10, Daily: 100}, time.Minute))
		require.NoError(t, err)
		f.clock.Advance(2 * time.Minute)

		assert.ErrorIs(t, f.mgr.Revoke(ctx, g.ID), ErrAlreadyTerminal)
		got, err := f.mgr.GetSession(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.State)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture()
		assert.ErrorIs(t, f.mgr.Revoke(ctx, "missing"), ErrSessionNotFound)
	})

	t.Run("concurrent revokes succeed exactly once", func(t *testing.T) {
		f := newFixture()
		g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour))
		require.NoError(t, err)

		var ok, terminal atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				switch err := f.mgr.Revoke(ctx, g.ID); {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, ErrAlreadyTerminal):
					terminal.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(15), terminal.Load())
	})
}

func TestAuthorizeUse_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 100, Daily: 250}, 1800*time.Second))
	require.NoError(t, err)

	res, err := f.mgr.AuthorizeUse(ctx, use(g.ID, 100))
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, models.ReasonOK, res.Reason)
	assert.Equal(t, uint64(100), res.DailyTotal)
	assert.Equal(t, uint64(150), res.RemainingDaily)
	assert.Equal(t, uint64(100), res.RemainingPerTx)

	res, err = f.mgr.AuthorizeUse(ctx, use(g.ID, 100))
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, uint64(50), res.RemainingDaily)
	assert.Equal(t, uint64(50), res.RemainingPerTx, "per-tx headroom is bounded by the daily remainder")

	res, err = f.mgr.AuthorizeUse(ctx, use(g.ID, 100))
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, models.ReasonDailyCapExceeded, res.Reason)
	assert.Equal(t, uint64(200), res.DailyTotal)

	total, err := f.ledger.CurrentTotal(ctx, g.ID, ledger.WindowKey(start, ledger.DefaultWindow))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), total)

	t.Run("a new window starts from zero", func(t *testing.T) {
		f.clock.Set(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
		g2, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 100, Daily: 250}, time.Hour))
		require.NoError(t, err)
		res, err := f.mgr.AuthorizeUse(ctx, use(g2.ID, 100))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), res.DailyTotal)
	})
}

func TestAuthorizeUse_CheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  models.UseRequest
		want models.Reason
	}{
		{"unknown session", use("missing", 1), models.ReasonSessionNotFound},
		{"target outside scope", models.UseRequest{SessionID: g.ID, Target: "0x3333333333333333333333333333333333333333", Method: approve, Amount: 50}, models.ReasonTargetNotAllowed},
		{"method outside scope", models.UseRequest{SessionID: g.ID, Target: target, Method: approve, Amount: 50}, models.ReasonMethodNotAllowed},
		{"per-tx cap", use(g.ID, 11), models.ReasonPerTxCapExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.mgr.AuthorizeUse(ctx, tt.req)
			require.NoError(t, err)
			assert.False(t, res.Approved)
			assert.Equal(t, tt.want, res.Reason)
			assert.Zero(t, res.RemainingDaily)
		})
	}

	total, err := f.ledger.CurrentTotal(ctx, g.ID, ledger.WindowKey(start, ledger.DefaultWindow))
	require.NoError(t, err)
	assert.Zero(t, total, "denials never touch the ledger")
}

func TestAuthorizeUse_Scope(t *testing.T) {
	ctx := context.Background()

	t.Run("empty scope denies everything", func(t *testing.T) {
		f := newFixture()
		req := openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour)
		req.Scope = models.Scope{}
		g, err := f.mgr.OpenSession(ctx, req)
		require.NoError(t, err)

		res, err := f.mgr.AuthorizeUse(ctx, use(g.ID, 1))
		require.NoError(t, err)
		assert.Equal(t, models.ReasonTargetNotAllowed, res.Reason)
	})

	t.Run("allow-all flags open an empty list", func(t *testing.T) {
		f := newFixture()
		req := openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour)
		req.Scope = models.Scope{AllowAllContracts: true, AllowAllMethods: true}
		g, err := f.mgr.OpenSession(ctx, req)
		require.NoError(t, err)

		res, err := f.mgr.AuthorizeUse(ctx, models.UseRequest{SessionID: g.ID, Target: "0x4444444444444444444444444444444444444444", Method: approve, Amount: 5})
		require.NoError(t, err)
		assert.True(t, res.Approved)
	})

	t.Run("a non-empty list wins over the allow-all flag", func(t *testing.T) {
		f := newFixture()
		req := openReq(models.Caps{PerTx: 10, Daily: 100}, time.Hour)
		req.Scope.AllowAllContracts = true
		g, err := f.mgr.OpenSession(ctx, req)
		require.NoError(t, err)

		res, err := f.mgr.AuthorizeUse(ctx, models.UseRequest{SessionID: g.ID, Target: "0x4444444444444444444444444444444444444444", Method: transfer, Amount: 5})
		require.NoError(t, err)
		assert.Equal(t, models.ReasonTargetNotAllowed, res.Reason)
	})
}

func TestAuthorizeUse_RandomizedCaps(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	for round := range 50 {
		f := newFixture()
		daily := 1 + rng.Uint64N(1000)
		perTx := 1 + rng.Uint64N(daily)
		g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: perTx, Daily: daily}, time.Hour))
		require.NoError(t, err)

		var approved uint64
		for range 40 {
			amount := rng.Uint64N(perTx + 5)
			res, err := f.mgr.AuthorizeUse(ctx, use(g.ID, amount))
			require.NoError(t, err)
			if res.Approved {
				approved += amount
				assert.Equal(t, approved, res.DailyTotal)
				assert.LessOrEqual(t, res.RemainingPerTx, res.RemainingDaily)
			}
			require.LessOrEqual(t, approved, daily, "round %d", round)
		}
	}
}

func TestAuthorizeUse_ConcurrentSpendsNeverOvershoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	g, err := f.mgr.OpenSession(ctx, openReq(models.Caps{PerTx: 7, Daily: 500}, time.Hour))
	require.NoError(t, err)

	var approved atomic.Uint64
	var eg errgroup.Group
	for range 200 {
		eg.Go(func() error {
			res, err := f.mgr.AuthorizeUse(ctx, use(g.ID, 7))
			if err != nil {
				return err
			}
			if res.Approved {
				approved.Add(7)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, uint64(497), approved.Load())
}
