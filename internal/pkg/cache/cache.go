package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/hauntedempire/paycore/internal/pkg/config"
)

// NewClient connects to the Redis server backing the job scheduler and the rate
// limiter. A failed ping is logged, not fatal: inline job mode works without Redis.
func NewClient(cfg config.Cache) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     Addr(cfg),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", Addr(cfg), err)
	} else {
		log.Infof("[Cache] Connected to Redis: %s", pong)
	}
	return client
}

// Addr returns host:port for cfg.
func Addr(cfg config.Cache) string {
	return fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
}
