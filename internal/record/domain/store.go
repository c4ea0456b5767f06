package domain

import (
	"context"

	"github.com/veriplex/veriplex/internal/config"
	"gorm.io/datatypes"
)

// Store is the freshness cache store over the per-domain record tables.
type Store interface {
	// Get returns the record for (domain, key), or nil when absent.
	Get(ctx context.Context, dom config.Domain, key string) (*CachedRecord, error)
	// Put upserts the record for (domain, key), stamping FetchedAt with the
	// store's clock. Last writer wins.
	Put(ctx context.Context, dom config.Domain, key string, payload datatypes.JSONMap, source string) error
}
