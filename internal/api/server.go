package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/sessionguard/internal/audit"
	"github.com/org/sessionguard/internal/auth"
	"github.com/org/sessionguard/internal/authz"
	"github.com/org/sessionguard/internal/clock"
	"github.com/org/sessionguard/internal/gasestimate"
	"github.com/org/sessionguard/internal/gaspolicy"
	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/session"
	"github.com/org/sessionguard/internal/sponsorship"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	Window      time.Duration
	RateLimit   float64
	RateBurst   int
}

// Components are the swappable collaborators of a Server. Nil fields get
// in-memory defaults.
type Components struct {
	Ledger    ledger.Ledger
	Tracker   sponsorship.Tracker
	Estimator gasestimate.Estimator
	Keys      *auth.KeySet
	Clock     clock.Clock
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
	LogDecision(ctx context.Context, requestID, apiKeyHash, projectID string, owner models.Address, d models.AuthorizationDecision)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Server is the API server.
type Server struct {
	store     storage.StorageBackend
	sessions  *session.Manager
	facade    *authz.Facade
	tracker   sponsorship.Tracker
	estimator gasestimate.Estimator
	auditor   AuditLogger
	keys      *auth.KeySet
	clock     clock.Clock
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.StorageBackend, cfg Config, c Components) *Server {
	if cfg.Window <= 0 {
		cfg.Window = ledger.DefaultWindow
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 200
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Ledger == nil {
		c.Ledger = ledger.NewMemoryLedger()
	}
	if c.Tracker == nil {
		c.Tracker = sponsorship.NewMemoryTracker()
	}
	if c.Estimator == nil {
		c.Estimator = gasestimate.NewStaticEstimator(0, nil)
	}

	sessions := session.NewManager(store, c.Ledger,
		session.WithClock(c.Clock),
		session.WithWindow(cfg.Window),
	)
	facade := authz.NewFacade(sessions, gaspolicy.NewEvaluator(), c.Tracker, store,
		authz.WithClock(c.Clock),
		authz.WithWindow(cfg.Window),
	)

	return &Server{
		store:     store,
		sessions:  sessions,
		facade:    facade,
		tracker:   c.Tracker,
		estimator: c.Estimator,
		auditor:   audit.NewLogger(store, c.Clock),
		keys:      c.Keys,
		clock:     c.Clock,
		cfg:       cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).middleware)
	r.Use(auditMiddleware(s.auditor))

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/health", s.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.keys))

		// Sessions
		r.Post("/v1/sessions", s.OpenSessionHandler)
		r.Get("/v1/sessions/{id}", s.GetSessionHandler)
		r.Post("/v1/sessions/{id}/revoke", s.RevokeSessionHandler)
		r.Post("/v1/sessions/{id}/use", s.UseSessionHandler)
		r.Get("/v1/owners/{owner}/session", s.ActiveSessionHandler)
		r.Get("/v1/owners/{owner}/sessions", s.ListSessionsHandler)

		// Gas policies and authorization
		r.Get("/v1/projects", s.ListGasPoliciesHandler)
		r.Put("/v1/projects/{project}/gas-policy", s.PutGasPolicyHandler)
		r.Get("/v1/projects/{project}/gas-policy", s.GetGasPolicyHandler)
		r.Get("/v1/projects/{project}/gas-policy/sponsored", s.SponsoredTotalHandler)
		r.Post("/v1/projects/{project}/authorize", s.AuthorizeHandler)

		r.Get("/v1/audit", s.AuditLogHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
