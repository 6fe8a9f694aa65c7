package main

import (
	"fmt"
	"strconv"

	"booking-core/internal/models"

	"github.com/spf13/cobra"
)

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Manage room inventory",
	}

	var name string
	set := &cobra.Command{
		Use:   "set [room_type_id] [quantity]",
		Short: "Set the physical quantity of a room type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return fmt.Errorf("quantity must be a non-negative integer, got %q", args[1])
			}
			if name == "" {
				name = args[0]
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.UpsertRoomInventory(cmd.Context(), models.RoomInventory{RoomTypeID: args[0], Name: name, Quantity: qty}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d units\n", args[0], qty)
			return nil
		},
	}
	set.Flags().StringVar(&name, "name", "", "Display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List room types",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			rooms, err := db.ListRoomInventory(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range rooms {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-30s %d\n", r.RoomTypeID, r.Name, r.Quantity)
			}
			return nil
		},
	}

	cmd.AddCommand(set, list)
	return cmd
}
