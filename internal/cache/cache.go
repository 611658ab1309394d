package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("key not found in cache")
	ErrAlreadyExists = errors.New("key already exists in cache")
	ErrNotConnected  = errors.New("not connected to cache")
)

// Cache defines the interface that all cache implementations must satisfy
type Cache interface {
	// Connect establishes a connection to the cache
	Connect() error

	// Close closes the connection to the cache
	Close() error

	// IsConnected returns true if the cache is connected
	IsConnected() bool

	// Name returns the name of the cache
	Name() string

	// Type returns the type of the cache (e.g., "redis", "memcached", etc.)
	Type() string

	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in the cache with an optional expiration
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// SetNX sets a value in the cache only if the key does not exist
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)

	// Increment increments a numeric value by the given amount
	Increment(ctx context.Context, key string, amount int64) (int64, error)

	// Decrement decrements a numeric value by the given amount
	Decrement(ctx context.Context, key string, amount int64) (int64, error)

	// Expire sets an expiration time on a key
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// FlushAll removes all keys from the cache
	FlushAll(ctx context.Context) error
}

// Config represents the configuration for a cache
type Config struct {
	Type     string                 // Type of cache (redis, memcached, etc.)
	Name     string                 // Name of this cache instance
	Host     string                 // Hostname or IP address
	Port     int                    // Port number
	Password string                 // Password for authentication
	Database int                    // Database number (for Redis)
	Options  map[string]interface{} // Additional options specific to the cache type
}

