package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{
		rdb: rdb,
		ttl: ttl,
	}
}

// NewDeduperWithLogger creates a deduper with logger support
func NewDeduperWithLogger(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given handler + todoID.
// Returns true if this is the FIRST time processing,
// false if it's a duplicate.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, todoID string) bool {
	key := fmt.Sprintf("dedup:%s:%s", handler, todoID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Fail open: if redis is down, processing must not stall.
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("todo_id", todoID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("todo_id", todoID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the dedup lock so a requeued delivery is processed
// again. Called when handling fails after AcquireOnce succeeded.
func (d *Deduper) Release(ctx context.Context, handler, todoID string) {
	key := fmt.Sprintf("dedup:%s:%s", handler, todoID)
	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup lock",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
	}
}
