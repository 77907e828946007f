// Package authz is the single entry point for "may this owner make this call,
// and does the project pay for the gas?". It composes the session authority
// with the gas policy evaluator and owns nothing else.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sessionguard/internal/clock"
	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/session"
	"github.com/org/sessionguard/internal/sponsorship"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

// ErrPolicyNotFound is returned by AuthorizeForProject when the project has
// no active gas policy.
var ErrPolicyNotFound = errors.New("gas policy not found")

// SessionAuthority is the part of session.Manager the façade uses.
type SessionAuthority interface {
	CurrentSession(ctx context.Context, owner models.Address) (*models.SessionGrant, error)
	AuthorizeUse(ctx context.Context, req models.UseRequest) (models.UseResult, error)
}

// SponsorshipEvaluator decides sponsorship. gaspolicy.Evaluator implements it.
type SponsorshipEvaluator interface {
	Evaluate(policy models.GasPolicy, call models.CallShape, sponsoredToday uint64) (models.SponsorshipDecision, error)
}

// PolicyProvider returns a project's active gas policy, or storage.ErrNotFound.
type PolicyProvider interface {
	GetGasPolicy(ctx context.Context, projectID string) (*models.GasPolicy, error)
}

// Request is one authorization question.
type Request struct {
	ProjectID        string
	Owner            models.Address
	Target           models.Address
	Method           models.Selector
	Amount           uint64
	EstimatedGasCost uint64
}

// Facade combines session checks and gas sponsorship into one decision.
type Facade struct {
	sessions  SessionAuthority
	evaluator SponsorshipEvaluator
	tracker   sponsorship.Tracker
	policies  PolicyProvider
	clock     clock.Clock
	window    time.Duration
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock overrides the clock used to pick the sponsorship window.
func WithClock(c clock.Clock) Option {
	return func(f *Facade) { f.clock = c }
}

// WithWindow sets the sponsorship accounting window size.
func WithWindow(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.window = d
		}
	}
}

// NewFacade creates a Facade. policies may be nil when only Authorize is used.
func NewFacade(sessions SessionAuthority, evaluator SponsorshipEvaluator, tracker sponsorship.Tracker, policies PolicyProvider, opts ...Option) *Facade {
	f := &Facade{
		sessions:  sessions,
		evaluator: evaluator,
		tracker:   tracker,
		policies:  policies,
		clock:     clock.Real(),
		window:    ledger.DefaultWindow,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AuthorizeForProject loads the project's active policy and authorizes req under it.
func (f *Facade) AuthorizeForProject(ctx context.Context, req Request) (models.AuthorizationDecision, error) {
	if f.policies == nil {
		return models.AuthorizationDecision{}, ErrPolicyNotFound
	}
	pol, err := f.policies.GetGasPolicy(ctx, req.ProjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.AuthorizationDecision{}, ErrPolicyNotFound
	}
	if err != nil {
		return models.AuthorizationDecision{}, fmt.Errorf("loading gas policy: %w", err)
	}
	return f.Authorize(ctx, req, *pol)
}

// Authorize runs the session check and, only if it passes, the sponsorship
// check. The returned error is non-nil for faults only. When the policy is
// malformed the decision is still returned: the session spend has already
// been recorded and Permitted reflects it.
func (f *Facade) Authorize(ctx context.Context, req Request, policy models.GasPolicy) (models.AuthorizationDecision, error) {
	grant, err := f.sessions.CurrentSession(ctx, req.Owner)
	if errors.Is(err, session.ErrSessionNotFound) {
		return f.record(deny(models.ReasonSessionNotFound, "")), nil
	}
	if err != nil {
		return models.AuthorizationDecision{}, fmt.Errorf("resolving session: %w", err)
	}

	use, err := f.sessions.AuthorizeUse(ctx, models.UseRequest{
		SessionID: grant.ID,
		Target:    req.Target,
		Method:    req.Method,
		Amount:    req.Amount,
	})
	if err != nil {
		return models.AuthorizationDecision{}, fmt.Errorf("authorizing session use: %w", err)
	}
	if !use.Approved {
		return f.record(deny(use.Reason, grant.ID)), nil
	}

	dec := models.AuthorizationDecision{
		Permitted:         true,
		Reason:            models.ReasonOK,
		MatchedSessionID:  grant.ID,
		RemainingPerTxCap: use.RemainingPerTx,
		RemainingDailyCap: use.RemainingDaily,
	}

	window := ledger.WindowKey(f.clock.Now(), f.window)
	sponsoredToday, err := f.tracker.SponsoredTotal(ctx, policy.ProjectID, window)
	if err != nil {
		return f.record(dec), fmt.Errorf("reading sponsored total: %w", err)
	}

	sd, err := f.evaluator.Evaluate(policy, models.CallShape{
		Target:        req.Target,
		Method:        req.Method,
		EstimatedCost: req.EstimatedGasCost,
	}, sponsoredToday)
	if err != nil {
		dec.SponsorshipReason = models.ReasonInvalidPolicyConfiguration
		log.Error().Err(err).Str("project_id", policy.ProjectID).Msg("gas policy rejected at evaluation")
		return f.record(dec), fmt.Errorf("evaluating gas policy for project %q: %w", policy.ProjectID, err)
	}
	dec.Sponsored = sd.Sponsored
	dec.SponsorshipReason = sd.Reason

	if sd.Sponsored {
		sponsored, err := f.commitSponsorship(ctx, policy, window, req.EstimatedGasCost)
		if err != nil {
			dec.Sponsored = false
			return f.record(dec), fmt.Errorf("recording sponsored cost: %w", err)
		}
		if !sponsored {
			// A concurrent request used the remaining budget after the snapshot.
			dec.Sponsored = false
			dec.SponsorshipReason = models.ReasonBudgetExceeded
		}
	}
	return f.record(dec), nil
}

// commitSponsorship adds cost to the project's total. Under a daily budget the
// add is conditional, and false means the budget no longer has room.
func (f *Facade) commitSponsorship(ctx context.Context, policy models.GasPolicy, window time.Time, cost uint64) (bool, error) {
	if policy.DailyBudget == nil {
		_, err := f.tracker.AddSponsored(ctx, policy.ProjectID, window, cost)
		return err == nil, err
	}
	_, err := f.tracker.ReserveSponsored(ctx, policy.ProjectID, window, cost, *policy.DailyBudget)
	if errors.Is(err, sponsorship.ErrBudgetExceeded) {
		return false, nil
	}
	return err == nil, err
}

func deny(reason models.Reason, sessionID string) models.AuthorizationDecision {
	return models.AuthorizationDecision{Reason: reason, MatchedSessionID: sessionID}
}

func (f *Facade) record(d models.AuthorizationDecision) models.AuthorizationDecision {
	observeDecision(d)
	log.Debug().
		Bool("permitted", d.Permitted).
		Bool("sponsored", d.Sponsored).
		Str("reason", string(d.Reason)).
		Str("sponsorship_reason", string(d.SponsorshipReason)).
		Str("session_id", d.MatchedSessionID).
		Msg("authorization decision")
	return d
}
