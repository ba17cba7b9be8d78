package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
// All methods are scoped by caller identity.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, identity string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, identity string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, identity string, key string) error

	// GetCalculation retrieves a cached saved calculation.
	GetCalculation(ctx context.Context, identity string, id string) (*Calculation, error)

	// SetCalculation caches a saved calculation.
	SetCalculation(ctx context.Context, identity string, calc *Calculation, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Backs the per-identity request rate limit.
	IncrementCounter(ctx context.Context, identity string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"local_max_size"`
	LocalTTL     time.Duration `yaml:"local_ttl"`

	// ResultTTL is how long memoized responses live.
	ResultTTL time.Duration `yaml:"result_ttl"`

	// Redis settings
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enable_two_phase"` // If true, check local first, then Redis
}
