package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"booking-core/internal/audit"
	"booking-core/internal/models"
	"booking-core/internal/store"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var (
		entity   string
		entityID string
		actor    string
		page     int
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail grouped by actor, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := store.NewAuditLog(db).List(cmd.Context(), models.AuditFilter{
				EntityType: models.EntityType(entity),
				EntityID:   entityID,
				ActorID:    actor,
			})
			if err != nil {
				return err
			}
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}

			result := audit.Present(entries, page, pageSize)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			writeAuditText(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&entity, "entity", "e", "", "Entity type (ReservationHold, Booking, Payment)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity id")
	cmd.Flags().StringVarP(&actor, "actor", "a", "", "Actor id")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "Page number")
	cmd.Flags().IntVarP(&pageSize, "page-size", "n", 20, "Groups per page")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func writeAuditText(w io.Writer, p audit.Page) {
	if len(p.Groups) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}
	for _, g := range p.Groups {
		fmt.Fprintf(w, "%s (%s, %s)\n", actorName(g.Actor), g.Actor.ID, g.Actor.Role)
		for _, e := range g.Entries {
			fmt.Fprintf(w, "  %s  %-6s %s %s\n", e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.Action, e.EntityType, e.EntityID)
			fmt.Fprintf(w, "    %s\n", e.Summary)
			if e.RenderError != "" {
				fmt.Fprintf(w, "    (could not render: %s)\n", e.RenderError)
			}
			for _, c := range e.Changes {
				label := c.Label
				if c.Name != "" {
					label += " [" + c.Name + "]"
				}
				fmt.Fprintf(w, "    %-24s %s -> %s\n", label, orDash(c.Before), orDash(c.After))
			}
			for _, f := range e.Fields {
				fmt.Fprintf(w, "    %-24s %s\n", f.Label, f.Value)
			}
		}
	}
	fmt.Fprintf(w, "%s\npage %d, %d groups total\n", strings.Repeat("-", 40), p.Page, p.TotalGroups)
}

func actorName(a models.Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
