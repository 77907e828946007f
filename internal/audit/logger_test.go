package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/sessionguard/internal/clock"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

type failingStore struct{ writes int }

func (f *failingStore) WriteAuditEntry(context.Context, *models.AuditEntry) error {
	f.writes++
	return errors.New("disk full")
}

func (f *failingStore) QueryAuditLog(context.Context, storage.AuditFilter) ([]*models.AuditEntry, error) {
	return nil, nil
}

func TestLogDecision(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := storage.NewMemoryBackend()
	l := NewLogger(store, clock.NewFake(ts))
	ctx := context.Background()

	l.LogDecision(ctx, "req-1", "", "proj", "0xabc", models.AuthorizationDecision{
		Permitted:         true,
		Sponsored:         true,
		Reason:            models.ReasonOK,
		SponsorshipReason: models.ReasonSponsored,
		MatchedSessionID:  "s1",
	})

	entries, err := l.Query(ctx, storage.AuditFilter{Path: "/v1/projects/proj"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if !e.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp from clock, got %v", e.Timestamp)
	}
	if e.Status != "ok" || e.Metadata["sponsorship_reason"] != "sponsored" || e.Metadata["session_id"] != "s1" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestLogRequestSwallowsWriteErrors(t *testing.T) {
	store := &failingStore{}
	l := NewLogger(store, nil)
	l.LogRequest(context.Background(), &models.AuditEntry{Path: "/v1/health"})
	if store.writes != 1 {
		t.Errorf("expected one write attempt, got %d", store.writes)
	}
}
