package cache

import (
	"context"
	"fmt"
	"time"

	"giftledger/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects to Redis and checks the connection. It returns nil, nil
// when Redis is not configured.
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Host, err)
	}
	return client, nil
}
