// Package domain contains the persistence model shared by every per-domain
// cached record table.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Source tags where a payload was obtained. SourceCache marks data served
// from the local store; every other value is a provider name.
const SourceCache = "cache"

// CachedRecord is one row of a per-domain record table. The payload is
// opaque to the core; only the key and the fetch timestamp participate in
// the freshness policy. Rows are overwritten on refresh, never appended.
type CachedRecord struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	RecordKey string            `gorm:"column:record_key;uniqueIndex;type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	Source    string            `gorm:"type:text;not null"`
	FetchedAt time.Time         `gorm:"not null"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// IsFresh reports whether the record was fetched within ttl of now. A zero
// or future-dated timestamp is treated as not fresh rather than an error:
// a malformed timestamp must never break the call path. Both sides are
// normalized to UTC before comparison.
func (r *CachedRecord) IsFresh(ttl time.Duration, now time.Time) bool {
	if r == nil || ttl <= 0 {
		return false
	}
	fetched := r.FetchedAt.UTC()
	if fetched.IsZero() {
		return false
	}
	age := now.UTC().Sub(fetched)
	if age < 0 {
		return false
	}
	return age < ttl
}
