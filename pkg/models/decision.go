package models

// Reason is the enumerated code attached to every authorization or sponsorship outcome.
type Reason string

const (
	ReasonOK Reason = "ok"

	// Session denials.
	ReasonSessionNotFound  Reason = "session_not_found"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonSessionRevoked   Reason = "session_revoked"
	ReasonTargetNotAllowed Reason = "target_not_allowed"
	ReasonMethodNotAllowed Reason = "method_not_allowed"
	ReasonPerTxCapExceeded Reason = "per_tx_cap_exceeded"
	ReasonDailyCapExceeded Reason = "daily_cap_exceeded"

	// Sponsorship outcomes.
	ReasonSponsored              Reason = "sponsored"
	ReasonBudgetExceeded         Reason = "budget_exceeded"
	ReasonPerTxLimitExceeded     Reason = "per_tx_limit_exceeded"
	ReasonUserPaysMode           Reason = "user_pays_mode"
	ReasonContractNotAllowlisted Reason = "contract_not_allowlisted"
	ReasonMethodNotAllowlisted   Reason = "method_not_allowlisted"

	ReasonInvalidPolicyConfiguration Reason = "invalid_policy_configuration"
)

// UseRequest asks whether a session may spend amount calling method on target.
type UseRequest struct {
	SessionID string
	Target    Address
	Method    Selector
	Amount    uint64
}

// UseResult is the outcome of a use-time check. When Approved is false, Reason
// says which check failed and the remaining fields are zero.
type UseResult struct {
	Approved       bool   `json:"approved"`
	Reason         Reason `json:"reason"`
	SessionID      string `json:"session_id,omitempty"`
	DailyTotal     uint64 `json:"daily_total"`
	RemainingPerTx uint64 `json:"remaining_per_tx"`
	RemainingDaily uint64 `json:"remaining_daily"`
}

// CallShape describes a candidate call for sponsorship evaluation.
type CallShape struct {
	Target        Address
	Method        Selector
	EstimatedCost uint64
}

// SponsorshipDecision is the gas policy evaluator's verdict.
type SponsorshipDecision struct {
	Sponsored bool   `json:"sponsored"`
	Reason    Reason `json:"reason"`
}

// AuthorizationDecision combines the session check and the sponsorship check.
// It is a value object and is never persisted.
type AuthorizationDecision struct {
	Permitted         bool   `json:"permitted"`
	Sponsored         bool   `json:"sponsored"`
	Reason            Reason `json:"reason"`
	SponsorshipReason Reason `json:"sponsorship_reason,omitempty"`
	MatchedSessionID  string `json:"matched_session_id,omitempty"`
	RemainingPerTxCap uint64 `json:"remaining_per_tx_cap"`
	RemainingDailyCap uint64 `json:"remaining_daily_cap"`
}
