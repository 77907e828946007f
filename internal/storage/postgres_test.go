package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/sponsorship"
	"github.com/org/sessionguard/pkg/models"
)

func newTestPostgres(t *testing.T) *PostgresBackend {
	t.Helper()
	dbURL := os.Getenv("SESSIONGUARD_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("SESSIONGUARD_TEST_DATABASE_URL not set")
	}
	_, err := RunMigrations(dbURL, "../../migrations")
	require.NoError(t, err)

	pg, err := NewPostgresBackend(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgresBackend_SessionLifecycle(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	o := models.Address("0x" + uuid.NewString()[:8] + "00000000000000000000000000000000")
	first := grant(uuid.NewString(), time.Hour)
	first.Owner = o
	second := grant(uuid.NewString(), time.Hour)
	second.Owner = o

	require.NoError(t, pg.CreateSession(ctx, first))
	require.NoError(t, pg.CreateSession(ctx, second))
	assert.ErrorIs(t, pg.CreateSession(ctx, first), ErrAlreadyExists)

	cur, err := pg.CurrentSession(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cur.ID)
	assert.Equal(t, second.Scope.Contracts, cur.Scope.Contracts)

	old, err := pg.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.ID, *old.SupersededBy)

	prior, err := pg.RevokeSession(ctx, first.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SessionSuperseded, prior)

	prior, err = pg.RevokeSession(ctx, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, prior)
	prior, err = pg.RevokeSession(ctx, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.SessionRevoked, prior)
}

func TestPostgresBackend_RecordSpendIsAtomic(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	g := grant(uuid.NewString(), time.Hour)
	g.Owner = models.Address("0x" + uuid.NewString()[:8] + "11111111111111111111111111111111")
	require.NoError(t, pg.CreateSession(ctx, g))
	window := ledger.WindowKey(t0, ledger.DefaultWindow)

	var eg errgroup.Group
	for i := 0; i < 20; i++ {
		eg.Go(func() error {
			_, err := pg.RecordSpend(ctx, g.ID, window, 7, 100)
			if err != nil && !errors.Is(err, ledger.ErrCapExceeded) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	total, err := pg.CurrentTotal(ctx, g.ID, window)
	require.NoError(t, err)
	assert.Equal(t, uint64(98), total)
}

func TestPostgresBackend_GasPolicyKeepsOneActive(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()
	project := "proj-" + uuid.NewString()

	require.NoError(t, pg.PutGasPolicy(ctx, &models.GasPolicy{ProjectID: project, Mode: models.ModeSponsorAll}))
	limit := uint64(5)
	require.NoError(t, pg.PutGasPolicy(ctx, &models.GasPolicy{ProjectID: project, Mode: models.ModeAllowlist, PerTxLimit: &limit}))

	pol, err := pg.GetGasPolicy(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, models.ModeAllowlist, pol.Mode)
	require.NotNil(t, pol.PerTxLimit)
	assert.Equal(t, limit, *pol.PerTxLimit)
}

func TestPostgresBackend_ReserveSponsoredIsAtomic(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()
	project := "it-" + uuid.NewString()
	window := ledger.WindowKey(t0, ledger.DefaultWindow)

	var eg errgroup.Group
	for i := 0; i < 20; i++ {
		eg.Go(func() error {
			_, err := pg.ReserveSponsored(ctx, project, window, 7, 100)
			if err != nil && !errors.Is(err, sponsorship.ErrBudgetExceeded) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	total, err := pg.SponsoredTotal(ctx, project, window)
	require.NoError(t, err)
	assert.Equal(t, uint64(98), total)

	total, err = pg.ReserveSponsored(ctx, project, window, 1<<63, 1<<64-1)
	assert.ErrorIs(t, err, sponsorship.ErrBudgetExceeded)
	assert.Equal(t, uint64(98), total)
}

func TestToBigint(t *testing.T) {
	_, err := toBigint(1 << 63)
	assert.ErrorIs(t, err, ledger.ErrAmountOutOfRange)
	v, err := toBigint(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("inserting: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	assert.True(t, isUniqueViolation(dup))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate key")))
}
