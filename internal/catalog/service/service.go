package service

import (
	"context"
	"errors"
	"time"

	"github.com/veriplex/veriplex/internal/cache"
	"github.com/veriplex/veriplex/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrServiceNotFound covers both an unknown slug and a deactivated service;
// callers must not be able to tell the two apart.
var ErrServiceNotFound = errors.New("service_not_found")

// directoryCacheTTL keeps catalog rows hot without a restart being required
// to pick up price changes.
const directoryCacheTTL = time.Minute

type DirectoryParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type directory struct {
	db     *gorm.DB
	log    *zap.Logger
	bySlug cache.Cache[string, *domain.Service]
}

func NewDirectory(p DirectoryParam) domain.Directory {
	return &directory{
		db:     p.DB,
		log:    p.Log.Named("catalog"),
		bySlug: cache.NewTTLCache[string, *domain.Service](),
	}
}

func (d *directory) GetBySlug(ctx context.Context, slug string) (*domain.Service, error) {
	if svc, ok := d.bySlug.Get(slug); ok {
		return svc, nil
	}

	var svc domain.Service
	err := d.db.WithContext(ctx).
		Where("slug = ? AND is_active = ?", slug, true).
		First(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}

	d.bySlug.Set(slug, &svc, directoryCacheTTL)
	return &svc, nil
}

func (d *directory) List(ctx context.Context) ([]domain.Service, error) {
	var services []domain.Service
	err := d.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&services).Error
	if err != nil {
		return nil, err
	}
	return services, nil
}
