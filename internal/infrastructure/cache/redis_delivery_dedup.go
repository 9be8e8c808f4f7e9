package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

const deliveryKeyPrefix = "webhook:delivery:"

// RedisDeliveryDedup remembers webhook delivery ids in Redis so repeated
// deliveries are dropped across all instances of the service.
type RedisDeliveryDedup struct {
	client *redis.Client
}

// NewRedisDeliveryDedup connects to Redis and verifies the connection
func NewRedisDeliveryDedup(cfg config.RedisConfig) (*RedisDeliveryDedup, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDeliveryDedup{client: client}, nil
}

// NewRedisDeliveryDedupWithClient wraps an existing Redis client
func NewRedisDeliveryDedupWithClient(client *redis.Client) *RedisDeliveryDedup {
	return &RedisDeliveryDedup{client: client}
}

// Remember records a delivery id with SETNX so the first delivery wins
// atomically across instances
func (s *RedisDeliveryDedup) Remember(ctx context.Context, provider canonical.SourceTool, deliveryID string, ttl time.Duration) (bool, error) {
	key := deliveryKeyPrefix + string(provider) + ":" + deliveryID
	fresh, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery id: %w", err)
	}
	return fresh, nil
}

// Close closes the Redis client
func (s *RedisDeliveryDedup) Close() error {
	return s.client.Close()
}

// Ensure RedisDeliveryDedup implements DeliveryDedup
var _ integration.DeliveryDedup = (*RedisDeliveryDedup)(nil)
