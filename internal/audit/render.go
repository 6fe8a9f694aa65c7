package audit

import (
	"fmt"
	"strings"
	"time"

	"booking-core/internal/models"
)

// Entry is an audit entry ready for display.
type Entry struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Action      models.AuditAction `json:"action"`
	EntityType  models.EntityType  `json:"entity_type"`
	EntityID    string             `json:"entity_id"`
	Summary     string             `json:"summary"`
	Changes     []FieldChange      `json:"changes,omitempty"`
	Fields      []HumanField       `json:"fields,omitempty"`
	RenderError string             `json:"render_error,omitempty"`
}

// DisplayGroup is a Group with its entries rendered.
type DisplayGroup struct {
	Actor   models.Actor `json:"actor"`
	Entries []Entry      `json:"entries"`
}

// Page is one page of actor groups.
type Page struct {
	Groups      []DisplayGroup `json:"groups"`
	Page        int            `json:"page"`
	PageSize    int            `json:"page_size"`
	TotalGroups int            `json:"total_groups"`
}

// Render turns one entry into field changes, or a full snapshot for
// creations and deletions. A snapshot that cannot be decoded is reported
// on the entry rather than failing the whole page.
func Render(e models.AuditEntry) Entry {
	out := Entry{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
	}

	var err error
	switch e.Action {
	case models.AuditCreate:
		out.Fields, err = Humanize(e.After, e.EntityType)
	case models.AuditDelete:
		out.Fields, err = Humanize(e.Before, e.EntityType)
	default:
		out.Changes, err = Diff(e.Before, e.After, e.EntityType)
	}
	if err != nil {
		out.RenderError = err.Error()
	}
	out.Summary = Summarize(e, out.Changes)
	return out
}

// Summarize returns the entry's own summary, or a generated one.
func Summarize(e models.AuditEntry, changes []FieldChange) string {
	if e.Summary != "" {
		return e.Summary
	}
	switch e.Action {
	case models.AuditCreate:
		return fmt.Sprintf("Created %s", e.EntityType)
	case models.AuditDelete:
		return fmt.Sprintf("Deleted %s", e.EntityType)
	}

	verb := map[models.AuditAction]string{
		models.AuditCancel: "Cancelled",
		models.AuditVerify: "Verified",
		models.AuditFlag:   "Flagged",
		models.AuditNote:   "Annotated",
	}[e.Action]
	if verb == "" {
		verb = "Updated"
	}
	if len(changes) == 0 {
		return fmt.Sprintf("%s %s", verb, e.EntityType)
	}

	seen := map[string]bool{}
	var labels []string
	for _, c := range changes {
		if !seen[c.Label] {
			seen[c.Label] = true
			labels = append(labels, strings.ToLower(c.Label))
		}
	}
	return fmt.Sprintf("%s %s: %s", verb, e.EntityType, strings.Join(labels, ", "))
}

// Present groups entries by actor, paginates the groups and renders the
// entries of the requested page only.
func Present(entries []models.AuditEntry, page, size int) Page {
	groups := GroupByActor(entries)
	slice, page := Paginate(groups, page, size)

	out := Page{
		Groups:      make([]DisplayGroup, 0, len(slice)),
		Page:        page,
		PageSize:    size,
		TotalGroups: len(groups),
	}
	for _, g := range slice {
		dg := DisplayGroup{Actor: g.Actor, Entries: make([]Entry, 0, len(g.Entries))}
		for _, e := range g.Entries {
			dg.Entries = append(dg.Entries, Render(e))
		}
		out.Groups = append(out.Groups, dg)
	}
	return out
}
