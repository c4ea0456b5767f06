package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/usagelog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type RecorderParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewRecorder(p RecorderParam) domain.Recorder {
	return &recorder{db: p.DB, log: p.Log.Named("usagelog"), genID: p.GenID, clock: p.Clock}
}

func (r *recorder) Record(ctx context.Context, rec *domain.UsageRecord) error {
	if rec.ID == 0 {
		rec.ID = r.genID.Generate()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.clock.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *recorder) List(ctx context.Context, filter domain.ListFilter) ([]domain.UsageRecord, error) {
	q := r.db.WithContext(ctx).Model(&domain.UsageRecord{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ServiceID != 0 {
		q = q.Where("service_id = ?", filter.ServiceID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	var records []domain.UsageRecord
	err := q.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
