package models

import "time"

// OpenSessionInput is the body of POST /v1/sessions. Contracts are addresses;
// methods are raw selectors or Solidity signatures.
type OpenSessionInput struct {
	Owner             string   `json:"owner"`
	SessionKeyRef     string   `json:"session_key_ref"`
	Contracts         []string `json:"contracts,omitempty"`
	Methods           []string `json:"methods,omitempty"`
	AllowAllContracts bool     `json:"allow_all_contracts,omitempty"`
	AllowAllMethods   bool     `json:"allow_all_methods,omitempty"`
	PerTxCap          uint64   `json:"per_tx_cap"`
	DailyCap          uint64   `json:"daily_cap"`
	TTLSeconds        int64    `json:"ttl_seconds"`
}

// UseInput is the body of POST /v1/sessions/{id}/use.
type UseInput struct {
	Target string `json:"target"`
	Method string `json:"method"`
	Amount uint64 `json:"amount"`
}

// AuthorizeInput is the body of POST /v1/projects/{project}/authorize. When
// EstimatedGasCost is omitted the server estimates it.
type AuthorizeInput struct {
	Owner            string  `json:"owner"`
	Target           string  `json:"target"`
	Method           string  `json:"method"`
	Amount           uint64  `json:"amount"`
	EstimatedGasCost *uint64 `json:"estimated_gas_cost,omitempty"`
}

// GasPolicyInput is the body of PUT /v1/projects/{project}/gas-policy.
type GasPolicyInput struct {
	Mode             string   `json:"mode" yaml:"mode"`
	DailyBudget      *uint64  `json:"daily_budget,omitempty" yaml:"daily_budget,omitempty"`
	PerTxLimit       *uint64  `json:"per_tx_limit,omitempty" yaml:"per_tx_limit,omitempty"`
	AllowedContracts []string `json:"allowed_contracts,omitempty" yaml:"allowed_contracts,omitempty"`
	AllowedMethods   []string `json:"allowed_methods,omitempty" yaml:"allowed_methods,omitempty"`
}

// SponsoredTotal is the response of GET /v1/projects/{project}/gas-policy/sponsored.
type SponsoredTotal struct {
	ProjectID   string    `json:"project_id"`
	WindowStart time.Time `json:"window_start"`
	Total       uint64    `json:"sponsored_total"`
	DailyBudget *uint64   `json:"daily_budget,omitempty"`
}
