package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord is one append-only billing audit row. Every execution attempt
// writes exactly one, success and failure alike; rows are never updated.
type UsageRecord struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID          string            `json:"user_id" gorm:"size:64;not null;index:idx_usage_user_created,priority:1"`
	APIKeyID        int64             `json:"api_key_id" gorm:"index"`
	ServiceID       int64             `json:"service_id" gorm:"index"`
	SubscriptionID  int64             `json:"subscription_id"`
	Endpoint        string            `json:"endpoint" gorm:"size:255;not null"`
	RequestParams   datatypes.JSONMap `json:"request_params" gorm:"type:jsonb"`
	ResponseStatus  int               `json:"response_status"`
	LatencyMs       int64             `json:"latency_ms"`
	DataSource      string            `json:"data_source" gorm:"size:64"`
	Success         bool              `json:"success"`
	CreditsDeducted float64           `json:"credits_deducted" gorm:"type:decimal(10,2)"`
	CreditsBefore   float64           `json:"credits_before" gorm:"type:decimal(10,2)"`
	CreditsAfter    float64           `json:"credits_after" gorm:"type:decimal(10,2)"`
	CreatedAt       time.Time         `json:"created_at" gorm:"index:idx_usage_user_created,priority:2"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// ListFilter narrows a usage listing. Zero values mean "no constraint".
type ListFilter struct {
	UserID    string
	ServiceID int64
	Since     time.Time
	Limit     int
}

// Recorder persists and reads back usage rows.
type Recorder interface {
	Record(ctx context.Context, rec *UsageRecord) error
	List(ctx context.Context, filter ListFilter) ([]UsageRecord, error)
}
