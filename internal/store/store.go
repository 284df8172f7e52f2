// Package store is the credential/rule store: a flat string key-value
// space holding AWS credentials, routing rules and schedules.
package store

import (
	"context"
	"fmt"
	"lambdabridge/internal/config"
)

// Entry is one key-value pair.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store is a string key-value store. Implementations must be safe for
// concurrent use. Get returns an apperrors.ErrNotFound error for missing keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// List returns every entry sorted by key.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open opens the backend selected by the service configuration.
func Open(ctx context.Context, cfg *config.ServiceConfig) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.StorePath)
	case config.StoreRedis:
		return OpenRedis(ctx, cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
