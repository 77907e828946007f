package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/org/sessionguard/internal/api"
	"github.com/org/sessionguard/internal/auth"
	"github.com/org/sessionguard/internal/evm"
	"github.com/org/sessionguard/internal/gasestimate"
	"github.com/org/sessionguard/internal/gaspolicy"
	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/sponsorship"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

const gaugeRefreshInterval = 30 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("SESSIONGUARD_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, found, err := loadConfig(cfgFile, os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !found {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, components, cleanup, err := buildBackends(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise storage")
	}
	defer cleanup()

	if err := seedPolicies(ctx, store, cfg.Projects); err != nil {
		log.Fatal().Err(err).Msg("failed to seed gas policies")
	}

	keys, err := auth.NewKeySet(cfg.APIKeyHashes)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid api_key_hashes")
	}
	if keys.Empty() {
		log.Warn().Msg("no api keys configured, API authentication disabled")
	}
	components.Keys = keys
	components.Estimator, err = buildEstimator(cfg.GasEstimate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid gas_estimate overrides")
	}

	srv := api.NewServer(store, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		Window:      cfg.Window,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	}, components)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		t := time.NewTicker(gaugeRefreshInterval)
		defer t.Stop()
		for {
			srv.RefreshGauges(gctx)
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})

	log.Info().Str("addr", cfg.ListenAddr).Str("storage", cfg.Storage.Driver).Msg("server started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// buildBackends opens the configured storage and picks the ledger and
// sponsorship tracker: Redis when configured, else the storage backend itself
// for postgres, else process memory.
func buildBackends(ctx context.Context, cfg config) (storage.StorageBackend, api.Components, func(), error) {
	var store storage.StorageBackend
	var comps api.Components
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Driver {
	case "postgres":
		status, err := storage.RunMigrations(cfg.Storage.DBUrl, cfg.Storage.MigrationsDir)
		if err != nil {
			return nil, comps, cleanup, err
		}
		log.Info().Uint("version", status.Version).Bool("applied", status.Applied).Msg("migrations checked")

		pg, err := storage.NewPostgresBackend(ctx, cfg.Storage.DBUrl)
		if err != nil {
			return nil, comps, cleanup, err
		}
		closers = append(closers, pg.Close)
		store, comps.Ledger, comps.Tracker = pg, pg, pg
	default:
		store = storage.NewMemoryBackend()
		comps.Ledger = ledger.NewMemoryLedger()
		comps.Tracker = sponsorship.NewMemoryTracker()
		log.Warn().Msg("using in-memory storage, state is lost on restart")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, comps, cleanup, err
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, comps, cleanup, err
		}
		comps.Ledger = ledger.NewRedisLedger(client, ledger.WithRetention(2*cfg.Window))
		comps.Tracker = sponsorship.NewRedisTracker(client, 2*cfg.Window)
		log.Info().Str("addr", opts.Addr).Msg("using redis for spend ledger and sponsored totals")
	}
	return store, comps, cleanup, nil
}

// seedPolicies stores configured gas policies for projects that have none
// yet, so policies changed through the API survive a restart.
func seedPolicies(ctx context.Context, store storage.StorageBackend, projects map[string]models.GasPolicyInput) error {
	for id, in := range projects {
		_, err := store.GetGasPolicy(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		pol, err := gaspolicy.FromInput(id, in)
		if err != nil {
			return err
		}
		pol.UpdatedAt = time.Now().UTC()
		if err := store.PutGasPolicy(ctx, &pol); err != nil {
			return err
		}
		log.Info().Str("project_id", id).Str("mode", string(pol.Mode)).Msg("seeded gas policy")
	}
	return nil
}

func buildEstimator(c gasEstimateConfig) (gasestimate.Estimator, error) {
	overrides := make(map[models.Address]uint64, len(c.Overrides))
	for raw, cost := range c.Overrides {
		addr, err := evm.NormalizeAddress(raw)
		if err != nil {
			return nil, err
		}
		overrides[addr] = cost
	}
	return gasestimate.NewStaticEstimator(c.Default, overrides), nil
}
