package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"booking-core/internal/models"
)

// GetRoomInventory retrieves the inventory of one room type
func (s *Store) GetRoomInventory(ctx context.Context, roomTypeID string) (*models.RoomInventory, error) {
	var inv models.RoomInventory
	err := s.db.GetContext(ctx, &inv,
		"SELECT room_type_id, name, quantity, updated_at FROM room_inventory WHERE room_type_id = $1", roomTypeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room type %s: %w", roomTypeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListRoomInventory retrieves every room type
func (s *Store) ListRoomInventory(ctx context.Context) ([]models.RoomInventory, error) {
	var rooms []models.RoomInventory
	err := s.db.SelectContext(ctx, &rooms,
		"SELECT room_type_id, name, quantity, updated_at FROM room_inventory ORDER BY room_type_id")
	return rooms, err
}

// UpsertRoomInventory sets the physical quantity of a room type
func (s *Store) UpsertRoomInventory(ctx context.Context, inv models.RoomInventory) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO room_inventory (room_type_id, name, quantity, updated_at)
		VALUES (:room_type_id, :name, :quantity, NOW())
		ON CONFLICT (room_type_id) DO UPDATE
		SET name = EXCLUDED.name, quantity = EXCLUDED.quantity, updated_at = NOW()`, inv)
	return err
}
