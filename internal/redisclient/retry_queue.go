package redisclient

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	retryScheduleKey = "reconcile:retries"
	retryAttemptsKey = "reconcile:attempts"
)

// RetryQueue stores reconciliation retries in a sorted set scored by due
// time, with attempt counts in a hash.
type RetryQueue struct {
	rdb *redis.Client
}

func NewRetryQueue(c *Client) *RetryQueue {
	return &RetryQueue{rdb: c.rdb}
}

func (q *RetryQueue) Schedule(ctx context.Context, bookingID string, attempts int, at time.Time) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, retryScheduleKey, &redis.Z{Score: float64(at.UnixMilli()), Member: bookingID})
	pipe.HSet(ctx, retryAttemptsKey, bookingID, attempts)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RetryQueue) Attempts(ctx context.Context, bookingID string) (int, error) {
	v, err := q.rdb.HGet(ctx, retryAttemptsKey, bookingID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (q *RetryQueue) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	return q.rdb.ZRangeByScore(ctx, retryScheduleKey, opt).Result()
}

func (q *RetryQueue) Clear(ctx context.Context, bookingID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, retryScheduleKey, bookingID)
	pipe.HDel(ctx, retryAttemptsKey, bookingID)
	_, err := pipe.Exec(ctx)
	return err
}
