package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrWithExpiry starts the window on the first increment only.
var incrWithExpiry = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements Cache using Redis.
// Used when results are shared across replicas, and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, identity string, key string) ([]byte, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}

	val, err := c.client.Get(ctx, c.makeKey(identity, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, identity string, key string, value []byte, ttl time.Duration) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	return c.client.Set(ctx, c.makeKey(identity, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, identity string, key string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	return c.client.Del(ctx, c.makeKey(identity, key)).Err()
}

// GetCalculation retrieves a cached saved calculation.
func (c *RedisCache) GetCalculation(ctx context.Context, identity string, id string) (*domain.Calculation, error) {
	data, err := c.Get(ctx, identity, calculationKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeCalculation(data)
}

// SetCalculation caches a saved calculation under its ID.
func (c *RedisCache) SetCalculation(ctx context.Context, identity string, calc *domain.Calculation, ttl time.Duration) error {
	data, err := json.Marshal(calc)
	if err != nil {
		return err
	}
	return c.Set(ctx, identity, calculationKey(calc.ID), data, ttl)
}

// IncrementCounter atomically increments a counter using INCR with PEXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, identity string, key string, window time.Duration) (int64, error) {
	if identity == "" {
		return 0, fmt.Errorf("identity is required")
	}

	fullKey := c.makeKey(identity, "counter:"+key)
	return incrWithExpiry.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(identity, key string) string {
	return "harrier:" + identity + ":" + key
}
