package redisclient

import (
	"github.com/redis/go-redis/v9"

	"github.com/dragon-zzuni/offline-agent/internal/config"
)

// New builds the Redis client used for the Top-3 selection cache,
// poller dedup keys and reasoning retry counters.
func New(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
