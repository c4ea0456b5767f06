package store

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/config"
	recorddomain "github.com/veriplex/veriplex/internal/record/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StoreParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewStore(p StoreParam) recorddomain.Store {
	return &Store{
		db:    p.DB,
		log:   p.Log.Named("record.store"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Store) Get(ctx context.Context, dom config.Domain, key string) (*recorddomain.CachedRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var record recorddomain.CachedRecord
	err := s.db.WithContext(ctx).
		Table(dom.Table).
		Where("record_key = ?", key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) Put(ctx context.Context, dom config.Domain, key string, payload datatypes.JSONMap, source string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("missing_record_key")
	}
	now := s.clock.Now()
	record := recorddomain.CachedRecord{
		ID:        s.genID.Generate(),
		RecordKey: key,
		Payload:   payload,
		Source:    source,
		FetchedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).
		Table(dom.Table).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"payload", "source", "fetched_at", "updated_at",
			}),
		}).
		Create(&record).Error
}
