package models

import (
	"slices"
	"time"
)

// PolicyMode selects how a project sponsors gas. The set is closed; any value
// outside the constants below is a configuration integrity error.
type PolicyMode string

const (
	ModeSponsorAll PolicyMode = "sponsor_all"
	ModeAllowlist  PolicyMode = "allowlist"
	ModeUserPays   PolicyMode = "user_pays"
)

// PolicyModes lists every known mode.
var PolicyModes = []PolicyMode{ModeSponsorAll, ModeAllowlist, ModeUserPays}

// GasPolicy is a project's sponsorship configuration. Under ModeAllowlist an
// empty AllowedContracts or AllowedMethods list matches nothing.
type GasPolicy struct {
	ProjectID        string     `json:"project_id" yaml:"project_id"`
	Mode             PolicyMode `json:"mode" yaml:"mode"`
	DailyBudget      *uint64    `json:"daily_budget,omitempty" yaml:"daily_budget,omitempty"`
	PerTxLimit       *uint64    `json:"per_tx_limit,omitempty" yaml:"per_tx_limit,omitempty"`
	AllowedContracts []Address  `json:"allowed_contracts,omitempty" yaml:"allowed_contracts,omitempty"`
	AllowedMethods   []Selector `json:"allowed_methods,omitempty" yaml:"allowed_methods,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// Clone returns a deep copy.
func (p *GasPolicy) Clone() *GasPolicy {
	c := *p
	if p.DailyBudget != nil {
		v := *p.DailyBudget
		c.DailyBudget = &v
	}
	if p.PerTxLimit != nil {
		v := *p.PerTxLimit
		c.PerTxLimit = &v
	}
	c.AllowedContracts = slices.Clone(p.AllowedContracts)
	c.AllowedMethods = slices.Clone(p.AllowedMethods)
	return &c
}

// AuditEntry records a single request or decision event.
type AuditEntry struct {
	ID             int64          `json:"id"`
	RequestID      string         `json:"request_id"`
	Timestamp      time.Time      `json:"timestamp"`
	APIKeyHash     string         `json:"api_key_hash,omitempty"`
	Operation      string         `json:"operation"`
	Path           string         `json:"path"`
	Status         string         `json:"status"`
	ResponseCode   int            `json:"response_code"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	ClientIP       string         `json:"client_ip"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
