package domain

import (
	"context"
	"time"
)

// Service is one billable entry in the marketplace catalog. Slug is the
// routing key used by the execution engine to pick a handler.
type Service struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"size:255;not null"`
	Slug         string    `json:"slug" gorm:"size:255;uniqueIndex;not null"`
	Description  string    `json:"description" gorm:"type:text"`
	PricePerCall float64   `json:"price_per_call" gorm:"type:decimal(10,2);not null"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Service) TableName() string {
	return "services"
}

// Directory is the read path into the catalog.
type Directory interface {
	GetBySlug(ctx context.Context, slug string) (*Service, error)
	List(ctx context.Context) ([]Service, error)
}
