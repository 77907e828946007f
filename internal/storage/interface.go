package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/sessionguard/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// StorageBackend defines the persistence interface for sessionguard.
type StorageBackend interface {
	// Sessions
	CreateSession(ctx context.Context, g *models.SessionGrant) error
	GetSession(ctx context.Context, id string) (*models.SessionGrant, error)
	CurrentSession(ctx context.Context, owner models.Address) (*models.SessionGrant, error)
	ListSessions(ctx context.Context, owner models.Address) ([]*models.SessionGrant, error)
	RevokeSession(ctx context.Context, id string, now time.Time) (models.SessionState, error)
	MarkExpired(ctx context.Context, id string) error

	// Gas policies: at most one active policy per project.
	PutGasPolicy(ctx context.Context, p *models.GasPolicy) error
	GetGasPolicy(ctx context.Context, projectID string) (*models.GasPolicy, error)
	ListGasPolicies(ctx context.Context) ([]*models.GasPolicy, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountActiveSessions(ctx context.Context, now time.Time) (int64, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Path   string
	Since  *time.Time
	Limit  int
	Offset int
}
