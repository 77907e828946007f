// Package gaspolicy decides whether a project's gas policy sponsors a call.
// Evaluation is pure: it reads the policy, the call shape, and the
// sponsored-so-far counter supplied by the caller, and nothing else.
package gaspolicy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/org/sessionguard/pkg/models"
)

// ErrInvalidPolicyConfiguration means the policy itself is malformed. It is
// never a denial: callers must surface it instead of picking a default.
var ErrInvalidPolicyConfiguration = errors.New("invalid gas policy configuration")

// Evaluator evaluates gas policies. The zero value is ready to use.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate decides sponsorship for call under policy, given the amount the
// project has already sponsored in the current window.
func (e *Evaluator) Evaluate(policy models.GasPolicy, call models.CallShape, sponsoredToday uint64) (models.SponsorshipDecision, error) {
	switch policy.Mode {
	case models.ModeUserPays:
		return notSponsored(models.ReasonUserPaysMode), nil
	case models.ModeSponsorAll:
		return withinLimits(policy, call.EstimatedCost, sponsoredToday), nil
	case models.ModeAllowlist:
		if !slices.Contains(policy.AllowedContracts, call.Target) {
			return notSponsored(models.ReasonContractNotAllowlisted), nil
		}
		if !slices.Contains(policy.AllowedMethods, call.Method) {
			return notSponsored(models.ReasonMethodNotAllowlisted), nil
		}
		return withinLimits(policy, call.EstimatedCost, sponsoredToday), nil
	default:
		return models.SponsorshipDecision{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicyConfiguration, policy.Mode)
	}
}

// withinLimits applies the per-transaction limit, then the daily budget.
func withinLimits(policy models.GasPolicy, cost, sponsoredToday uint64) models.SponsorshipDecision {
	if policy.PerTxLimit != nil && cost > *policy.PerTxLimit {
		return notSponsored(models.ReasonPerTxLimitExceeded)
	}
	if policy.DailyBudget != nil {
		budget := *policy.DailyBudget
		if sponsoredToday > budget || cost > budget-sponsoredToday {
			return notSponsored(models.ReasonBudgetExceeded)
		}
	}
	return models.SponsorshipDecision{Sponsored: true, Reason: models.ReasonSponsored}
}

func notSponsored(r models.Reason) models.SponsorshipDecision {
	return models.SponsorshipDecision{Reason: r}
}

// Validate checks a policy before it is stored. It rejects unknown modes and
// allowlist fields on modes that would ignore them.
func Validate(policy models.GasPolicy) error {
	if policy.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidPolicyConfiguration)
	}
	if _, err := ParseMode(string(policy.Mode)); err != nil {
		return err
	}
	if policy.Mode != models.ModeAllowlist && (len(policy.AllowedContracts) > 0 || len(policy.AllowedMethods) > 0) {
		return fmt.Errorf("%w: allowlists are only valid in %s mode", ErrInvalidPolicyConfiguration, models.ModeAllowlist)
	}
	return nil
}

// ParseMode converts s into a known PolicyMode.
func ParseMode(s string) (models.PolicyMode, error) {
	m := models.PolicyMode(s)
	if !slices.Contains(models.PolicyModes, m) {
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicyConfiguration, s)
	}
	return m, nil
}
