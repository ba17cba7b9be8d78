package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New creates a cache based on configuration.
// "memory" returns an LRU cache. "redis" returns a Redis cache, or a
// TwoPhaseCache wrapping LRU + Redis when two-phase is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// ResponseKey derives the memoization key for a pipeline response from the
// operation name and the canonical request body.
func ResponseKey(op string, body []byte) string {
	sum := sha256.Sum256(body)
	return "resp:" + op + ":" + hex.EncodeToString(sum[:])
}

func calculationKey(id string) string {
	return "calc:" + id
}

func decodeCalculation(data []byte) (*domain.Calculation, error) {
	var calc domain.Calculation
	if err := json.Unmarshal(data, &calc); err != nil {
		return nil, fmt.Errorf("failed to decode cached calculation: %w", err)
	}
	return &calc, nil
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis shared across replicas
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, identity string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, identity, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, identity, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, identity, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2. L1 never outlives L2.
func (c *TwoPhaseCache) Set(ctx context.Context, identity string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, identity, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, identity, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, identity string, key string) error {
	if err := c.local.Delete(ctx, identity, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, identity, key)
}

// GetCalculation retrieves a cached saved calculation, L1 first.
func (c *TwoPhaseCache) GetCalculation(ctx context.Context, identity string, id string) (*domain.Calculation, error) {
	calc, err := c.local.GetCalculation(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if calc != nil {
		return calc, nil
	}

	calc, err = c.remote.GetCalculation(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if calc != nil {
		_ = c.local.SetCalculation(ctx, identity, calc, c.l1TTL)
	}

	return calc, nil
}

// SetCalculation caches a saved calculation in both L1 and L2.
func (c *TwoPhaseCache) SetCalculation(ctx context.Context, identity string, calc *domain.Calculation, ttl time.Duration) error {
	if err := c.local.SetCalculation(ctx, identity, calc, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetCalculation(ctx, identity, calc, ttl)
}

// IncrementCounter uses Redis so rate limits hold across replicas.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, identity string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, identity, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}
