package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whatsapp-platform/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no tenant matches the given identifier.
var ErrNotFound = errors.New("tenant not found")

// Service resolves tenant records and their channel credentials. Lookups go
// through a Redis cache-aside layer; a nil Redis client disables caching.
type Service struct {
	db     *gorm.DB
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(db *gorm.DB, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{db: db, rdb: rdb, ttl: ttl, logger: logger}
}

// ByPhoneNumberID resolves the tenant owning a channel phone-number id, the
// identifier Meta stamps on every webhook change.
func (s *Service) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	if phoneNumberID == "" {
		return nil, ErrNotFound
	}
	return s.lookup(ctx, "tenant:pnid:"+phoneNumberID, "phone_number_id = ?", phoneNumberID)
}

// ByID resolves a tenant by its primary identifier.
func (s *Service) ByID(ctx context.Context, id string) (*models.Tenant, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.lookup(ctx, "tenant:id:"+id, "id = ?", id)
}

func (s *Service) lookup(ctx context.Context, cacheKey, query string, arg string) (*models.Tenant, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, cacheKey).Result()
		if err == nil {
			var tenant models.Tenant
			if err := json.Unmarshal([]byte(raw), &tenant); err == nil {
				return &tenant, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Tenant cache read failed", zap.Error(err))
		}
	}

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where(query, arg).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	if s.rdb != nil {
		if b, err := json.Marshal(&tenant); err == nil {
			if err := s.rdb.Set(ctx, cacheKey, b, s.ttl).Err(); err != nil {
				s.logger.Warn("Tenant cache write failed", zap.Error(err))
			}
		}
	}
	return &tenant, nil
}
