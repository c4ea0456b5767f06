package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/veriplex/veriplex/internal/apikey/domain"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "vx_live_"
	apiKeySecretBytes = 32
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Authenticate resolves a raw key to its identity. Unknown, inactive and
// expired keys all collapse into the same unauthorized error so the response
// leaks nothing about which check failed.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*apikeydomain.Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, apikeydomain.ErrUnauthorized
	}

	hash := apikeydomain.HashAPIKey(rawKey)
	now := s.clock.Now()

	var key apikeydomain.APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apikeydomain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, apikeydomain.ErrUnauthorized
	}

	return &apikeydomain.Identity{
		APIKeyID:       int64(key.ID),
		UserID:         key.UserID,
		ServiceID:      key.ServiceID,
		SubscriptionID: key.SubscriptionID,
		Scopes:         append([]string(nil), key.Scopes...),
	}, nil
}

// TouchLastUsed records key activity. It is advisory bookkeeping; a failed
// write is logged and forgotten.
func (s *Service) TouchLastUsed(ctx context.Context, keyID int64) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", now).Error
	if err != nil {
		s.log.Warn("failed to touch api key", zap.Int64("api_key_id", keyID), zap.Error(err))
	}
}

func (s *Service) Mint(ctx context.Context, req apikeydomain.MintRequest) (*apikeydomain.MintResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	// A duplicate key_hash means the random secret repeated; mint a fresh
	// one instead of surfacing the unique-index error.
	for attempt := 0; ; attempt++ {
		secret := make([]byte, apiKeySecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		plain := apiKeyPrefix + hex.EncodeToString(secret)

		now := s.clock.Now()
		key := &apikeydomain.APIKey{
			ID:             s.genID.Generate(),
			UserID:         req.UserID,
			ServiceID:      req.ServiceID,
			SubscriptionID: req.SubscriptionID,
			Name:           name,
			KeyHash:        apikeydomain.HashAPIKey(plain),
			KeyPrefix:      apiKeyPrefix,
			Scopes:         apikeydomain.Scopes(req.Scopes),
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      req.ExpiresAt,
		}

		err := s.db.WithContext(ctx).Create(key).Error
		if err == nil {
			return &apikeydomain.MintResponse{ID: key.ID, APIKey: plain, Prefix: key.KeyPrefix}, nil
		}
		if !db.IsDuplicateKeyErr(err) || attempt >= 2 {
			return nil, err
		}
		s.log.Warn("api key hash collided, regenerating", zap.Error(err))
	}
}
