package audit

import "booking-core/internal/models"

// Group is a run of consecutive entries by the same actor.
type Group struct {
	Actor   models.Actor        `json:"actor"`
	Entries []models.AuditEntry `json:"entries"`
}

// GroupByActor merges consecutive entries that share an actor id. Order is
// kept: an actor that reappears later starts a new group.
func GroupByActor(entries []models.AuditEntry) []Group {
	groups := make([]Group, 0)
	for _, e := range entries {
		if n := len(groups); n > 0 && groups[n-1].Actor.ID == e.Actor.ID {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}
		groups = append(groups, Group{Actor: e.Actor, Entries: []models.AuditEntry{e}})
	}
	return groups
}

// Paginate returns the 1-based page of items and the page actually used.
// Pages past the end are empty.
func Paginate[T any](items []T, page, size int) ([]T, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		return items, page
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}, page
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], page
}
