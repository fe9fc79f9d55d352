package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-platform/internal/models"

	"gorm.io/gorm"
)

// Service maintains the per-tenant per-day delivery counters. Counters are
// monotonically incremented with conditional column updates, never read back
// and rewritten, so concurrent receipts cannot corrupt them.
type Service struct {
	db  *gorm.DB
	loc *time.Location
}

func NewService(db *gorm.DB, loc *time.Location) *Service {
	return &Service{db: db, loc: loc}
}

// Today returns the current calendar day in the tenant-local zone.
func (s *Service) Today() string {
	return time.Now().In(s.loc).Format("2006-01-02")
}

// Increment bumps the counter matching a status kind for today's row,
// creating the row on first use.
func (s *Service) Increment(ctx context.Context, tenantID string, kind models.MessageStatus) error {
	column, ok := columnFor(kind)
	if !ok {
		return fmt.Errorf("no daily counter for status %q", kind)
	}
	date := s.Today()

	res := s.db.WithContext(ctx).Model(&models.DailyStat{}).
		Where("tenant_id = ? AND date = ?", tenantID, date).
		Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to increment daily stats: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := models.DailyStat{TenantID: tenantID, Date: date}
	switch kind {
	case models.StatusSent:
		row.TotalSent = 1
	case models.StatusDelivered:
		row.TotalDelivered = 1
	case models.StatusRead:
		row.TotalRead = 1
	case models.StatusFailed:
		row.TotalFailed = 1
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Another receipt created the row first; fall back to the update.
		res = s.db.WithContext(ctx).Model(&models.DailyStat{}).
			Where("tenant_id = ? AND date = ?", tenantID, date).
			Update(column, gorm.Expr(column+" + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to increment daily stats: %w", res.Error)
		}
		return nil
	}
	return fmt.Errorf("failed to create daily stats row: %w", err)
}

// Get returns the counters for one day, zeroes if the row does not exist.
func (s *Service) Get(ctx context.Context, tenantID, date string) (*models.DailyStat, error) {
	var row models.DailyStat
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND date = ?", tenantID, date).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.DailyStat{TenantID: tenantID, Date: date}, nil
		}
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}
	return &row, nil
}

func columnFor(kind models.MessageStatus) (string, bool) {
	switch kind {
	case models.StatusSent:
		return "total_sent", true
	case models.StatusDelivered:
		return "total_delivered", true
	case models.StatusRead:
		return "total_read", true
	case models.StatusFailed:
		return "total_failed", true
	default:
		return "", false
	}
}
