// Package store persists product observations and collection progress.
package store

import (
	"fmt"

	"github.com/nutrishelf/backend/internal/domain"
)

// Config selects a store backend
type Config struct {
	Type       string // "jsonl" or "sqlite"
	Dir        string
	SQLitePath string
}

// Open creates the configured store
func Open(cfg Config) (domain.Store, error) {
	switch cfg.Type {
	case "", "jsonl":
		return NewJSONLStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
