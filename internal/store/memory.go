package store

import (
	"context"
	"encoding/json"
	"sync"

	"booking-core/internal/models"
)

// MemoryAuditLog keeps audit entries in process memory.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	failErr error
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// FailWith makes every following Append return err. nil restores normal
// operation.
func (l *MemoryAuditLog) FailWith(err error) {
	l.mu.Lock()
	l.failErr = err
	l.mu.Unlock()
}

func (l *MemoryAuditLog) Append(_ context.Context, e models.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	e.Before = append(json.RawMessage(nil), e.Before...)
	e.After = append(json.RawMessage(nil), e.After...)
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryAuditLog) List(_ context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.AuditEntry, 0)
	for _, e := range l.entries {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && e.Actor.ID != f.ActorID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of entries appended so far.
func (l *MemoryAuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
