package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-core/internal/models"
	"booking-core/internal/store"
	"booking-core/internal/util"

	"go.uber.org/zap"
)

// InventoryStore is the durable source of room inventory.
type InventoryStore interface {
	GetRoomInventory(ctx context.Context, roomTypeID string) (*models.RoomInventory, error)
	ListRoomInventory(ctx context.Context) ([]models.RoomInventory, error)
}

// InventoryCache is a read-through cache of room inventory.
type InventoryCache interface {
	InitRoomInventory(ctx context.Context, inv models.RoomInventory, ttl time.Duration) error
	GetRoomInventory(ctx context.Context, roomTypeID string) (*models.RoomInventory, error)
}

// InventoryClient resolves room inventory through the cache, falling back
// to the database.
type InventoryClient struct {
	store  InventoryStore
	cache  InventoryCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client. cache may be nil.
func NewInventoryClient(store InventoryStore, cache InventoryCache, ttl time.Duration) *InventoryClient {
	return &InventoryClient{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.ComponentLogger("inventory"),
	}
}

// RoomInventory returns the physical quantity of a room type (fast path via Redis)
func (ic *InventoryClient) RoomInventory(ctx context.Context, roomTypeID string) (models.RoomInventory, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.RoomInventory")
	defer span.End()

	if ic.cache != nil {
		inv, err := ic.cache.GetRoomInventory(ctx, roomTypeID)
		if err == nil && inv != nil {
			return *inv, nil
		}
		if err != nil {
			ic.logger.Debug("Inventory cache miss, falling back to DB",
				zap.String("room_type_id", roomTypeID),
				zap.Error(err))
		}
	}

	inv, err := ic.store.GetRoomInventory(ctx, roomTypeID)
	if errors.Is(err, store.ErrNotFound) {
		return models.RoomInventory{}, fmt.Errorf("%w: %s", ErrRoomTypeNotFound, roomTypeID)
	}
	if err != nil {
		return models.RoomInventory{}, fmt.Errorf("load inventory for %s: %w", roomTypeID, err)
	}

	if ic.cache != nil {
		if err := ic.cache.InitRoomInventory(ctx, *inv, ic.ttl); err != nil {
			ic.logger.Warn("Failed to cache inventory",
				zap.String("room_type_id", roomTypeID),
				zap.Error(err))
		}
	}
	return *inv, nil
}

// SyncInventoryToRedis loads every room type into the cache
func (ic *InventoryClient) SyncInventoryToRedis(ctx context.Context) error {
	if ic.cache == nil {
		return nil
	}
	ic.logger.Info("Starting inventory sync to Redis")

	rooms, err := ic.store.ListRoomInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list room inventory: %w", err)
	}

	for _, inv := range rooms {
		if err := ic.cache.InitRoomInventory(ctx, inv, ic.ttl); err != nil {
			ic.logger.Error("Failed to init Redis inventory",
				zap.String("room_type_id", inv.RoomTypeID),
				zap.Error(err))
		}
	}

	ic.logger.Info("Inventory sync completed", zap.Int("count", len(rooms)))
	return nil
}

// StaticInventory is a fixed room type -> quantity table.
type StaticInventory map[string]int

func (s StaticInventory) RoomInventory(_ context.Context, roomTypeID string) (models.RoomInventory, error) {
	qty, ok := s[roomTypeID]
	if !ok {
		return models.RoomInventory{}, fmt.Errorf("%w: %s", ErrRoomTypeNotFound, roomTypeID)
	}
	return models.RoomInventory{RoomTypeID: roomTypeID, Name: roomTypeID, Quantity: qty}, nil
}
