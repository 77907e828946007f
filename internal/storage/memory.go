package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/org/sessionguard/pkg/models"
)

// MemoryBackend is a process-local StorageBackend for development and tests.
// All reads return copies.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionGrant
	byOwner  map[models.Address][]string // oldest first
	current  map[models.Address]string
	policies map[string]*models.GasPolicy
	audit    []*models.AuditEntry
	auditSeq int64
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: map[string]*models.SessionGrant{},
		byOwner:  map[models.Address][]string{},
		current:  map[models.Address]string{},
		policies: map[string]*models.GasPolicy{},
	}
}

func (m *MemoryBackend) Close() {}

// --- Sessions ---

func (m *MemoryBackend) CreateSession(_ context.Context, g *models.SessionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[g.ID]; ok {
		return ErrAlreadyExists
	}
	if prevID, ok := m.current[g.Owner]; ok {
		id := g.ID
		m.sessions[prevID].SupersededBy = &id
	}
	m.sessions[g.ID] = g.Clone()
	m.byOwner[g.Owner] = append(m.byOwner[g.Owner], g.ID)
	m.current[g.Owner] = g.ID
	return nil
}

func (m *MemoryBackend) GetSession(_ context.Context, id string) (*models.SessionGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (m *MemoryBackend) CurrentSession(_ context.Context, owner models.Address) (*models.SessionGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.current[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return m.sessions[id].Clone(), nil
}

func (m *MemoryBackend) ListSessions(_ context.Context, owner models.Address) ([]*models.SessionGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byOwner[owner]
	out := make([]*models.SessionGrant, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, m.sessions[ids[i]].Clone())
	}
	return out, nil
}

func (m *MemoryBackend) RevokeSession(_ context.Context, id string, now time.Time) (models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	prior := g.StateAt(now)
	switch prior {
	case models.SessionActive:
		t := now
		g.RevokedAt = &t
		g.State = models.SessionRevoked
	case models.SessionExpired:
		g.State = models.SessionExpired
	}
	return prior, nil
}

func (m *MemoryBackend) MarkExpired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if g.State == models.SessionActive {
		g.State = models.SessionExpired
	}
	return nil
}

// --- Gas policies ---

func (m *MemoryBackend) PutGasPolicy(_ context.Context, p *models.GasPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := p.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	m.policies[p.ProjectID] = c
	return nil
}

func (m *MemoryBackend) GetGasPolicy(_ context.Context, projectID string) (*models.GasPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryBackend) ListGasPolicies(_ context.Context) ([]*models.GasPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.GasPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b *models.GasPolicy) int { return strings.Compare(a.ProjectID, b.ProjectID) })
	return out, nil
}

// --- Audit ---

func (m *MemoryBackend) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditSeq++
	c := *e
	c.ID = m.auditSeq
	m.audit = append(m.audit, &c)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.Path != "" && !strings.HasPrefix(e.Path, filter.Path) {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// --- Metrics ---

func (m *MemoryBackend) CountActiveSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, id := range m.current {
		if m.sessions[id].IsActiveAt(now) {
			n++
		}
	}
	return n, nil
}
