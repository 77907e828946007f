package models

import (
	"slices"
	"time"
)

// Address is a normalized EVM address: "0x" followed by 40 lowercase hex digits.
type Address string

// Selector is a normalized 4-byte method selector: "0x" followed by 8 lowercase hex digits.
type Selector string

// Session TTL bounds.
const (
	MinSessionTTL = 60 * time.Second
	MaxSessionTTL = 86400 * time.Second
)

// SessionState is the lifecycle state of a SessionGrant.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionExpired SessionState = "expired"
	SessionRevoked SessionState = "revoked"
	// SessionSuperseded is derived, never stored: the owner opened a newer
	// grant. The grant is kept for audit but can no longer be used.
	SessionSuperseded SessionState = "superseded"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionState) IsTerminal() bool {
	return s == SessionExpired || s == SessionRevoked || s == SessionSuperseded
}

// Scope restricts which contracts and methods a session may call.
// An empty list denies everything unless the matching AllowAll flag is set.
type Scope struct {
	Contracts         []Address  `json:"contracts" yaml:"contracts"`
	Methods           []Selector `json:"methods" yaml:"methods"`
	AllowAllContracts bool       `json:"allow_all_contracts" yaml:"allow_all_contracts"`
	AllowAllMethods   bool       `json:"allow_all_methods" yaml:"allow_all_methods"`
}

// AllowsContract reports whether target is inside the contract scope.
func (s Scope) AllowsContract(target Address) bool {
	if len(s.Contracts) == 0 {
		return s.AllowAllContracts
	}
	return slices.Contains(s.Contracts, target)
}

// AllowsMethod reports whether method is inside the method scope.
func (s Scope) AllowsMethod(method Selector) bool {
	if len(s.Methods) == 0 {
		return s.AllowAllMethods
	}
	return slices.Contains(s.Methods, method)
}

// Caps are spend limits in the smallest currency unit.
type Caps struct {
	PerTx uint64 `json:"per_tx"`
	Daily uint64 `json:"daily"`
}

// SessionGrant is a delegated, scoped, time-bounded signing authority.
// The core only ever holds the public reference of the session key.
type SessionGrant struct {
	ID            string        `json:"id"`
	Owner         Address       `json:"owner"`
	SessionKeyRef string        `json:"session_key_ref"`
	Scope         Scope         `json:"scope"`
	Caps          Caps          `json:"caps"`
	TTL           time.Duration `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	State         SessionState  `json:"state"`
	RevokedAt     *time.Time    `json:"revoked_at,omitempty"`
	SupersededBy  *string       `json:"superseded_by,omitempty"`
}

// StateAt evaluates the grant's state at now. Expiry is exclusive: a grant
// is expired from ExpiresAt onwards. A superseded grant reports
// SessionSuperseded unless it was revoked or had already been marked expired.
func (g *SessionGrant) StateAt(now time.Time) SessionState {
	if g.State == SessionRevoked || g.RevokedAt != nil {
		return SessionRevoked
	}
	if g.SupersededBy != nil && g.State != SessionExpired {
		return SessionSuperseded
	}
	if g.State == SessionExpired || !now.Before(g.ExpiresAt) {
		return SessionExpired
	}
	return SessionActive
}

// IsActiveAt returns true if the grant may be used at now.
func (g *SessionGrant) IsActiveAt(now time.Time) bool {
	return g.StateAt(now) == SessionActive
}

// Clone returns a deep copy so stores never hand out shared slices.
func (g *SessionGrant) Clone() *SessionGrant {
	c := *g
	c.Scope.Contracts = slices.Clone(g.Scope.Contracts)
	c.Scope.Methods = slices.Clone(g.Scope.Methods)
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		c.RevokedAt = &t
	}
	if g.SupersededBy != nil {
		s := *g.SupersededBy
		c.SupersededBy = &s
	}
	return &c
}

// SpendRecord is the cumulative spend of one session in one accounting window.
type SpendRecord struct {
	SessionID   string
	WindowStart time.Time
	Amount      uint64
}
