package service

import (
	"context"
	"encoding/json"
	"fmt"

	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditLog is the append-only store every transition is written to.
// List returns entries in append order.
type AuditLog interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
}

type auditRecorder struct {
	log    AuditLog
	clock  clock.Clock
	logger *zap.Logger
}

func newAuditRecorder(log AuditLog, clk clock.Clock, logger *zap.Logger) *auditRecorder {
	return &auditRecorder{log: log, clock: clk, logger: logger}
}

// record writes one entry synchronously. A nil before or after means the
// snapshot is absent. Any failure is reported as ErrAuditWrite and the
// caller must not apply the transition.
func (r *auditRecorder) record(
	ctx context.Context,
	actor models.Actor,
	action models.AuditAction,
	entity models.EntityType,
	entityID string,
	before, after interface{},
	summary string,
) error {
	entry := models.AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  r.clock.Now(),
		Actor:      actor,
		Action:     action,
		EntityType: entity,
		EntityID:   entityID,
		Summary:    summary,
	}

	var err error
	if before != nil {
		if entry.Before, err = json.Marshal(before); err != nil {
			return fmt.Errorf("%w: marshal before snapshot: %v", ErrAuditWrite, err)
		}
	}
	if after != nil {
		if entry.After, err = json.Marshal(after); err != nil {
			return fmt.Errorf("%w: marshal after snapshot: %v", ErrAuditWrite, err)
		}
	}

	if err := r.log.Append(ctx, entry); err != nil {
		util.AuditAppendFailuresTotal.WithLabelValues(string(entity)).Inc()
		r.logger.Error("Failed to append audit entry",
			zap.String("entity_type", string(entity)),
			zap.String("entity_id", entityID),
			zap.String("action", string(action)),
			zap.Error(err))
		return fmt.Errorf("%w: %s %s: %v", ErrAuditWrite, entity, entityID, err)
	}
	return nil
}

// latestSnapshots replays entries of one entity type and returns the last
// after-snapshot of every entity, in first-seen order. Entities whose last
// entry has no after-snapshot (deletions) are dropped.
func latestSnapshots(entries []models.AuditEntry, entity models.EntityType) []json.RawMessage {
	order := make([]string, 0)
	latest := make(map[string]json.RawMessage)
	for _, e := range entries {
		if e.EntityType != entity {
			continue
		}
		if _, seen := latest[e.EntityID]; !seen {
			order = append(order, e.EntityID)
		}
		latest[e.EntityID] = e.After
	}

	out := make([]json.RawMessage, 0, len(order))
	for _, id := range order {
		if snap := latest[id]; len(snap) > 0 && string(snap) != "null" {
			out = append(out, snap)
		}
	}
	return out
}
