package cache

import (
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// NewDeliveryDedup builds the delivery dedup store, preferring Redis and
// falling back to process memory when Redis is unreachable. The fallback is
// acceptable because dedup only saves work the idempotent upsert would
// otherwise absorb.
func NewDeliveryDedup(cfg config.RedisConfig, logger *zap.Logger) integration.DeliveryDedup {
	store, err := NewRedisDeliveryDedup(cfg)
	if err == nil {
		logger.Info("using redis webhook delivery dedup", zap.String("addr", cfg.Addr()))
		return store
	}

	logger.Warn("redis unavailable, webhook delivery dedup falls back to process memory",
		zap.Error(err),
	)
	return NewMemoryDeliveryDedup()
}
