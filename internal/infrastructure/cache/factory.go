package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewIdempotencyStore builds the handler claim store for the configuration.
// Without a Redis host, or when Redis is unreachable and not required, an
// in-memory store is returned.
func NewIdempotencyStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (shared.IdempotencyStore, error) {
	addr := cfg.Addr()
	if addr == "" {
		if cfg.Required {
			return nil, fmt.Errorf("redis.host is required")
		}
		logger.Info("Redis not configured, using in-memory idempotency store")
		return NewInMemoryIdempotencyStore(nil, 5*time.Minute), nil
	}

	store, err := NewRedisIdempotencyStore(ctx, &redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, DefaultKeyPrefix)
	if err == nil {
		logger.Info("using Redis idempotency store", zap.String("addr", addr))
		return store, nil
	}
	if cfg.Required {
		return nil, err
	}

	logger.Warn("Redis unavailable, falling back to in-memory idempotency store; "+
		"notification handlers may run twice across instances",
		zap.String("addr", addr),
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(nil, 5*time.Minute), nil
}
