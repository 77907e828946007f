// Package session issues, looks up, revokes, and checks delegated session
// grants. Expiry is evaluated lazily on every access; nothing runs in the
// background.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sessionguard/internal/clock"
	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

var (
	ErrInvalidTTL      = errors.New("session ttl must be between 60s and 86400s")
	ErrInvalidCaps     = errors.New("per-transaction cap must not exceed daily cap")
	ErrInvalidRequest  = errors.New("owner and session key reference are required")
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyTerminal is informational: the session was already revoked or expired.
	ErrAlreadyTerminal = errors.New("session already revoked or expired")
)

// OpenRequest describes a new session grant.
type OpenRequest struct {
	Owner         models.Address
	SessionKeyRef string
	Scope         models.Scope
	Caps          models.Caps
	TTL           time.Duration
}

// Manager owns the session grant lifecycle and the per-session spend ledger.
type Manager struct {
	store  Store
	ledger ledger.Ledger
	clock  clock.Clock
	ids    IDGenerator
	window time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithWindow overrides the spend accounting window (default one UTC day).
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// NewManager creates a Manager.
func NewManager(store Store, l ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ledger: l,
		clock:  clock.Real(),
		ids:    UUIDGenerator{},
		window: ledger.DefaultWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Window returns the accounting window size.
func (m *Manager) Window() time.Duration { return m.window }

// OpenSession validates req and stores a new active grant that supersedes the
// owner's previous current grant.
func (m *Manager) OpenSession(ctx context.Context, req OpenRequest) (*models.SessionGrant, error) {
	if req.TTL < models.MinSessionTTL || req.TTL > models.MaxSessionTTL {
		return nil, ErrInvalidTTL
	}
	if req.Caps.PerTx > req.Caps.Daily {
		return nil, ErrInvalidCaps
	}
	if req.Owner == "" || req.SessionKeyRef == "" {
		return nil, ErrInvalidRequest
	}

	now := m.clock.Now()
	g := &models.SessionGrant{
		ID:            m.ids.NewID(),
		Owner:         req.Owner,
		SessionKeyRef: req.SessionKeyRef,
		Scope:         req.Scope,
		Caps:          req.Caps,
		TTL:           req.TTL,
		CreatedAt:     now,
		ExpiresAt:     now.Add(req.TTL),
		State:         models.SessionActive,
	}
	if err := m.store.CreateSession(ctx, g); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	log.Info().
		Str("session_id", g.ID).
		Str("owner", string(g.Owner)).
		Time("expires_at", g.ExpiresAt).
		Uint64("per_tx_cap", g.Caps.PerTx).
		Uint64("daily_cap", g.Caps.Daily).
		Msg("session opened")
	return g.Clone(), nil
}

// GetActiveSession returns the owner's current grant if it is active now, or
// nil when there is none.
func (m *Manager) GetActiveSession(ctx context.Context, owner models.Address) (*models.SessionGrant, error) {
	g, err := m.CurrentSession(ctx, owner)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if g.State != models.SessionActive {
		return nil, nil
	}
	return g, nil
}

// CurrentSession returns the owner's current grant with its state evaluated
// at now, whether or not it is still active.
func (m *Manager) CurrentSession(ctx context.Context, owner models.Address) (*models.SessionGrant, error) {
	g, err := m.store.CurrentSession(ctx, owner)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading current session: %w", err)
	}
	return m.observe(ctx, g)
}

// GetSession returns a grant by id with its state evaluated at now.
func (m *Manager) GetSession(ctx context.Context, id string) (*models.SessionGrant, error) {
	g, err := m.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return m.observe(ctx, g)
}

// ListSessions returns the owner's grant history, newest first.
func (m *Manager) ListSessions(ctx context.Context, owner models.Address) ([]*models.SessionGrant, error) {
	grants, err := m.store.ListSessions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	now := m.clock.Now()
	for _, g := range grants {
		g.State = g.StateAt(now)
	}
	return grants, nil
}

// observe evaluates g at now and persists an expiry the store has not seen yet.
func (m *Manager) observe(ctx context.Context, g *models.SessionGrant) (*models.SessionGrant, error) {
	state := g.StateAt(m.clock.Now())
	if state == models.SessionExpired && g.State == models.SessionActive {
		if err := m.store.MarkExpired(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("marking session expired: %w", err)
		}
		log.Debug().Str("session_id", g.ID).Msg("session expired")
	}
	g.State = state
	return g, nil
}

// Revoke terminates a session. Revoking a session that is already revoked,
// expired or superseded returns ErrAlreadyTerminal.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	prior, err := m.store.RevokeSession(ctx, id, m.clock.Now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("revoking session: %w", err)
	}
	if prior.IsTerminal() {
		return ErrAlreadyTerminal
	}
	log.Info().Str("session_id", id).Msg("session revoked")
	return nil
}

// AuthorizeUse runs the use-time checks in order and records the spend on
// success. Denials are reported in the result; the error is reserved for
// storage faults and is never retried here.
func (m *Manager) AuthorizeUse(ctx context.Context, req models.UseRequest) (models.UseResult, error) {
	deny := func(r models.Reason) (models.UseResult, error) {
		return models.UseResult{Reason: r, SessionID: req.SessionID}, nil
	}

	g, err := m.GetSession(ctx, req.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return deny(models.ReasonSessionNotFound)
	}
	if err != nil {
		return models.UseResult{}, err
	}
	switch g.State {
	case models.SessionExpired:
		return deny(models.ReasonSessionExpired)
	case models.SessionRevoked:
		return deny(models.ReasonSessionRevoked)
	case models.SessionSuperseded:
		// Only the owner's current grant may be used.
		return deny(models.ReasonSessionNotFound)
	}

	if !g.Scope.AllowsContract(req.Target) {
		return deny(models.ReasonTargetNotAllowed)
	}
	if !g.Scope.AllowsMethod(req.Method) {
		return deny(models.ReasonMethodNotAllowed)
	}
	if req.Amount > g.Caps.PerTx {
		return deny(models.ReasonPerTxCapExceeded)
	}

	window := ledger.WindowKey(m.clock.Now(), m.window)
	total, err := m.ledger.RecordSpend(ctx, g.ID, window, req.Amount, g.Caps.Daily)
	if errors.Is(err, ledger.ErrCapExceeded) {
		res, _ := deny(models.ReasonDailyCapExceeded)
		res.DailyTotal = total
		return res, nil
	}
	if err != nil {
		return models.UseResult{}, fmt.Errorf("recording spend: %w", err)
	}

	remainingDaily := g.Caps.Daily - total
	return models.UseResult{
		Approved:       true,
		Reason:         models.ReasonOK,
		SessionID:      g.ID,
		DailyTotal:     total,
		RemainingPerTx: min(g.Caps.PerTx, remainingDaily),
		RemainingDaily: remainingDaily,
	}, nil
}
