package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"booking-core/internal/models"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func inventoryKey(roomTypeID string) string {
	return fmt.Sprintf("inventory:%s", roomTypeID)
}

// InitRoomInventory caches the quantity of a room type
func (c *Client) InitRoomInventory(ctx context.Context, inv models.RoomInventory, ttl time.Duration) error {
	key := inventoryKey(inv.RoomTypeID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "name", inv.Name, "quantity", inv.Quantity)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetRoomInventory retrieves a cached room type
func (c *Client) GetRoomInventory(ctx context.Context, roomTypeID string) (*models.RoomInventory, error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(roomTypeID)).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("inventory for room type %s: %w", roomTypeID, ErrCacheMiss)
	}

	qty, err := strconv.Atoi(result["quantity"])
	if err != nil {
		return nil, fmt.Errorf("corrupt cached quantity for %s: %w", roomTypeID, err)
	}

	return &models.RoomInventory{
		RoomTypeID: roomTypeID,
		Name:       result["name"],
		Quantity:   qty,
	}, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
