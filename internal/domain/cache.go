package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
// All methods require tenantID for strict multi-tenancy isolation.
// The scoring core never reads from the cache; it serves the HTTP boundary only.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetResponse retrieves a stored scoring response for an idempotency key.
	GetResponse(ctx context.Context, tenantID string, idempotencyKey string) (*ScoreResponse, error)

	// SetResponse stores a scoring response under an idempotency key.
	SetResponse(ctx context.Context, tenantID string, idempotencyKey string, resp *ScoreResponse, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-tenant request rate limiting.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `koanf:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `koanf:"local_max_size"`
	LocalTTL     time.Duration `koanf:"local_ttl"`

	// Redis settings
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `koanf:"enable_two_phase"` // If true, check local first, then Redis
}
