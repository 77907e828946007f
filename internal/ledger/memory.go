package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger. Each session has its own lock, so
// concurrent spends on different sessions never wait on each other; the outer
// mutex only guards the lookup of that lock.
//
// Only the newest window is kept: a spend drops the session's older windows,
// and the first spend of a new window drops sessions with nothing recorded in
// it.
type MemoryLedger struct {
	mu       sync.Mutex
	sessions map[string]*sessionSpend
	latest   int64 // newest window key seen
}

type sessionSpend struct {
	mu      sync.Mutex
	windows map[int64]uint64
	removed bool // dropped from MemoryLedger.sessions; guarded by mu
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sessions: make(map[string]*sessionSpend)}
}

func (l *MemoryLedger) session(id string, key int64) *sessionSpend {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key > l.latest {
		l.latest = key
		l.sweep(key)
	}
	s, ok := l.sessions[id]
	if !ok {
		s = &sessionSpend{windows: make(map[int64]uint64)}
		l.sessions[id] = s
	}
	return s
}

// sweep drops sessions with nothing recorded at or after key. Sessions whose
// lock is held are skipped and looked at again on the next rollover.
// Callers hold l.mu.
func (l *MemoryLedger) sweep(key int64) {
	for id, s := range l.sessions {
		if !s.mu.TryLock() {
			continue
		}
		stale := true
		for k := range s.windows {
			if k >= key {
				stale = false
				break
			}
		}
		if stale {
			s.removed = true
			delete(l.sessions, id)
		}
		s.mu.Unlock()
	}
}

// lockSession returns the session's spend record with its lock held.
func (l *MemoryLedger) lockSession(id string, key int64) *sessionSpend {
	for {
		s := l.session(id, key)
		s.mu.Lock()
		if !s.removed {
			return s
		}
		s.mu.Unlock()
	}
}

// RecordSpend implements Ledger.
func (l *MemoryLedger) RecordSpend(_ context.Context, sessionID string, window time.Time, amount, dailyCap uint64) (uint64, error) {
	key := window.Unix()
	s := l.lockSession(sessionID, key)
	defer s.mu.Unlock()

	for k := range s.windows {
		if k < key {
			delete(s.windows, k)
		}
	}

	total := s.windows[key]
	if amount == 0 {
		return total, nil
	}
	if !fits(total, amount, dailyCap) {
		return total, ErrCapExceeded
	}
	total += amount
	s.windows[key] = total
	return total, nil
}

// CurrentTotal implements Ledger.
func (l *MemoryLedger) CurrentTotal(_ context.Context, sessionID string, window time.Time) (uint64, error) {
	l.mu.Lock()
	s, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[window.Unix()], nil
}
