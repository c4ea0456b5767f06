package domain

import (
	"context"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidName  = errors.New("invalid_name")
)

// APIKey stores hashed credentials binding a user to a service subscription.
// Only the sha256 of the key is persisted; the plaintext exists once, in the
// mint response.
type APIKey struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	UserID         string       `gorm:"size:64;index;not null"`
	ServiceID      int64        `gorm:"index;not null"`
	SubscriptionID int64        `gorm:"index"`
	Name           string       `gorm:"type:text;not null"`
	KeyHash        string       `gorm:"column:key_hash;type:text;uniqueIndex;not null"`
	KeyPrefix      string       `gorm:"column:key_prefix;size:16;not null"`
	Scopes         Scopes       `gorm:"column:scopes"`
	IsActive       bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
	LastUsedAt     *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt      *time.Time   `gorm:"column:expires_at"`
}

func (APIKey) TableName() string { return "api_keys" }

// Scopes lists extra service slugs a key may call beyond its bound service.
// Postgres stores a native text[]; the other dialects store the same array
// literal in a plain text column, so one model migrates everywhere.
type Scopes pq.StringArray

func (s Scopes) Value() (driver.Value, error) {
	return pq.StringArray(s).Value()
}

func (s *Scopes) Scan(src any) error {
	return (*pq.StringArray)(s).Scan(src)
}

func (Scopes) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Identity is the authenticated caller derived from a valid key.
type Identity struct {
	APIKeyID       int64
	UserID         string
	ServiceID      int64
	SubscriptionID int64
	Scopes         []string
}

// MintRequest creates a key. MintResponse is the only time the plaintext key
// leaves the system.
type MintRequest struct {
	UserID         string
	ServiceID      int64
	SubscriptionID int64
	Name           string
	Scopes         []string
	ExpiresAt      *time.Time
}

type MintResponse struct {
	ID     snowflake.ID `json:"id"`
	APIKey string       `json:"api_key"`
	Prefix string       `json:"key_prefix"`
}

type Service interface {
	Authenticate(ctx context.Context, rawKey string) (*Identity, error)
	TouchLastUsed(ctx context.Context, keyID int64)
	Mint(ctx context.Context, req MintRequest) (*MintResponse, error)
}
