// Package cache provides the similarity result caches.
package cache

import (
	"context"
	"fmt"

	"github.com/nutrishelf/backend/internal/domain"
)

// Config selects a cache backend
type Config struct {
	Type     string // "memory" or "redis"
	RedisURL string
}

// Cache is a CacheRepository that owns resources
type Cache interface {
	domain.CacheRepository
	Close() error
}

// New creates the configured cache
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(0), nil
	case "redis":
		return NewRedisCache(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
