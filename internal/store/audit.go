package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"booking-core/internal/models"
)

type auditRow struct {
	ID         string    `db:"id"`
	Timestamp  time.Time `db:"ts"`
	ActorID    string    `db:"actor_id"`
	ActorName  string    `db:"actor_name"`
	ActorRole  string    `db:"actor_role"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Before     []byte    `db:"before"`
	After      []byte    `db:"after"`
	Summary    string    `db:"summary"`
}

func (r auditRow) entry() models.AuditEntry {
	return models.AuditEntry{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Actor:      models.Actor{ID: r.ActorID, Name: r.ActorName, Role: r.ActorRole},
		Action:     models.AuditAction(r.Action),
		EntityType: models.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		Before:     json.RawMessage(r.Before),
		After:      json.RawMessage(r.After),
		Summary:    r.Summary,
	}
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// AppendAudit inserts one audit entry. Entries are never updated.
func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, actor_name, actor_role, action, entity_type, entity_id, before, after, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Timestamp, e.Actor.ID, e.Actor.Name, e.Actor.Role, string(e.Action),
		string(e.EntityType), e.EntityID, nullableJSON(e.Before), nullableJSON(e.After), e.Summary)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns matching entries in append order
func (s *Store) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", string(f.EntityType))
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}

	query := "SELECT id, ts, actor_id, actor_name, actor_role, action, entity_type, entity_id, before, after, summary FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]models.AuditEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

// AuditLog adapts the store to the append/list audit contract.
type AuditLog struct {
	store *Store
}

func NewAuditLog(s *Store) *AuditLog {
	return &AuditLog{store: s}
}

func (l *AuditLog) Append(ctx context.Context, e models.AuditEntry) error {
	return l.store.AppendAudit(ctx, e)
}

func (l *AuditLog) List(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	return l.store.ListAudit(ctx, f)
}
