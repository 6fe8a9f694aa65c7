package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/service"
	"booking-core/internal/store"

	"github.com/spf13/cobra"
)

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild state from the audit log and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			log := store.NewAuditLog(db)
			inventory := service.NewInventoryClient(db, nil, 0)
			return replay(cmd.Context(), cmd.OutOrStdout(), log, inventory)
		},
	}
}

// replay restores holds, bookings and payments into memory without
// starting any sweeper, so nothing is written back.
func replay(ctx context.Context, w io.Writer, log service.AuditLog, inventory service.InventoryLookup) error {
	clk := clock.NewSystem()
	holds := service.NewHoldManager(inventory, log, clk)
	engine := service.NewEngine(holds, log, clk)

	n, err := holds.Restore(ctx, log)
	if err != nil {
		return err
	}
	m, err := engine.Restore(ctx, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "restored %d holds, %d bookings and payments\n", n, m)

	byStatus := map[models.PaymentStatus]int{}
	for _, p := range engine.ListPayments(service.PaymentFilter{}) {
		byStatus[p.Status]++
	}
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %-10s %d\n", s, byStatus[models.PaymentStatus(s)])
	}

	attention := engine.ListPayments(service.PaymentFilter{AttentionOnly: true})
	if len(attention) > 0 {
		fmt.Fprintf(w, "needs attention:\n")
		for _, p := range attention {
			reason := ""
			if len(p.Notes) > 0 {
				reason = p.Notes[len(p.Notes)-1].Text
			}
			fmt.Fprintf(w, "  %s booking=%s status=%s %s\n", p.ID, p.BookingID, p.Status, reason)
		}
	}
	return nil
}
