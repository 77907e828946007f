package audit

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/org/sessionguard/internal/clock"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

// Store is the persistence the Logger writes to.
type Store interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Logger writes structured audit entries.
type Logger struct {
	store Store
	clock clock.Clock
}

// NewLogger creates an audit Logger.
func NewLogger(store Store, c clock.Clock) *Logger {
	if c == nil {
		c = clock.Real()
	}
	return &Logger{store: store, clock: c}
}

// LogRequest records an API request. Only metadata is passed here, never key
// material. Write failures are logged and do not fail the request.
func (l *Logger) LogRequest(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = l.clock.Now()
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("request_id", entry.RequestID).Str("path", entry.Path).Msg("audit write failed")
	}
}

// LogDecision records the outcome of an authorization request.
func (l *Logger) LogDecision(ctx context.Context, requestID, apiKeyHash, projectID string, owner models.Address, d models.AuthorizationDecision) {
	l.LogRequest(ctx, &models.AuditEntry{
		RequestID:  requestID,
		APIKeyHash: apiKeyHash,
		Operation:  "authorize",
		Path:       "/v1/projects/" + projectID + "/authorize",
		Status:     string(d.Reason),
		Metadata: map[string]any{
			"project_id":         projectID,
			"owner":              string(owner),
			"permitted":          d.Permitted,
			"sponsored":          d.Sponsored,
			"sponsorship_reason": string(d.SponsorshipReason),
			"session_id":         d.MatchedSessionID,
		},
	})
}

// Query retrieves paginated audit log entries, newest first.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}
