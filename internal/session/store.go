package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/org/sessionguard/pkg/models"
)

// Store is the persistence the Manager needs. Lookups of unknown ids return
// storage.ErrNotFound.
type Store interface {
	// CreateSession stores g and makes it the owner's current grant. A prior
	// current grant is marked superseded by g but kept.
	CreateSession(ctx context.Context, g *models.SessionGrant) error
	GetSession(ctx context.Context, id string) (*models.SessionGrant, error)
	// CurrentSession returns the owner's current grant whatever its state.
	CurrentSession(ctx context.Context, owner models.Address) (*models.SessionGrant, error)
	// ListSessions returns every grant ever opened for owner, newest first.
	ListSessions(ctx context.Context, owner models.Address) ([]*models.SessionGrant, error)
	// RevokeSession moves an active, unexpired grant to revoked and returns the
	// state observed before the call. Any state other than active means the
	// call changed nothing.
	RevokeSession(ctx context.Context, id string, now time.Time) (models.SessionState, error)
	// MarkExpired records the lazily observed expiry of an active grant.
	MarkExpired(ctx context.Context, id string) error
}

// IDGenerator produces unique session ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random (v4) UUIDs.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string { return uuid.NewString() }
