package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RetryQueue remembers bookings whose reconciliation must be retried.
type RetryQueue interface {
	// Schedule records the attempt count and when the next try is due.
	Schedule(ctx context.Context, bookingID string, attempts int, at time.Time) error
	// Attempts returns how many failed tries were recorded; 0 if none.
	Attempts(ctx context.Context, bookingID string) (int, error)
	// Due returns up to limit bookings whose retry time is not after now.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Clear(ctx context.Context, bookingID string) error
}

type retryEntry struct {
	attempts int
	at       time.Time
}

// MemoryRetryQueue keeps retries in process memory.
type MemoryRetryQueue struct {
	mu      sync.Mutex
	entries map[string]retryEntry
}

func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{entries: make(map[string]retryEntry)}
}

func (q *MemoryRetryQueue) Schedule(_ context.Context, bookingID string, attempts int, at time.Time) error {
	q.mu.Lock()
	q.entries[bookingID] = retryEntry{attempts: attempts, at: at}
	q.mu.Unlock()
	return nil
}

func (q *MemoryRetryQueue) Attempts(_ context.Context, bookingID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries[bookingID].attempts, nil
}

func (q *MemoryRetryQueue) Due(_ context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	type due struct {
		id string
		at time.Time
	}
	var ready []due
	for id, e := range q.entries {
		if !e.at.After(now) {
			ready = append(ready, due{id: id, at: e.at})
		}
	}
	q.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].at.Before(ready[j].at) })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]string, len(ready))
	for i, d := range ready {
		out[i] = d.id
	}
	return out, nil
}

func (q *MemoryRetryQueue) Clear(_ context.Context, bookingID string) error {
	q.mu.Lock()
	delete(q.entries, bookingID)
	q.mu.Unlock()
	return nil
}
