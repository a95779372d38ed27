package clients

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const stockReleaseQueueKey = "stock_release_queue"

// StockQueue buffers stock releases that failed against the Catalog Service.
// The scheduler drains it each tick, so a catalog outage delays releases
// instead of losing them.
type StockQueue struct {
	redis *RedisClient
}

func NewStockQueue(redis *RedisClient) *StockQueue {
	return &StockQueue{redis: redis}
}

func (q *StockQueue) Enqueue(ctx context.Context, bookID uuid.UUID) error {
	return q.redis.LPush(ctx, stockReleaseQueueKey, bookID.String())
}

// Dequeue pops one queued book ID; ok is false when the queue is empty.
func (q *StockQueue) Dequeue(ctx context.Context) (uuid.UUID, bool, error) {
	raw, err := q.redis.RPop(ctx, stockReleaseQueueKey)
	if IsNil(err) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("bad queue entry %q: %w", raw, err)
	}
	return id, true, nil
}
