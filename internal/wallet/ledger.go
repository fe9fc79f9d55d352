package wallet

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-platform/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns the only two balance mutations in the system: the debit taken
// when a broadcast is created and the credit that reverses the cost of a
// message that never became billable. No negative-balance check is made at
// debit time; overdraft policy belongs to the admin layer.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Debit subtracts the projected broadcast cost from the tenant's balance and
// writes one immutable ledger entry. It runs inside the caller's transaction
// so broadcast creation and the debit commit together.
func (s *Service) Debit(tx *gorm.DB, tenantID string, amount float64, broadcastID string, messageCount int) error {
	res := tx.Model(&models.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("failed to debit wallet: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := tx.Create(&models.Wallet{TenantID: tenantID, Balance: -amount}).Error; err != nil {
			return fmt.Errorf("failed to create wallet: %w", err)
		}
	}

	entry := models.WalletEntry{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		BroadcastID:  broadcastID,
		Kind:         models.EntryDebit,
		Amount:       amount,
		MessageCount: messageCount,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record debit entry: %w", err)
	}
	return nil
}

// Credit returns a single message's cost to the tenant's balance. The credit
// references the broadcast it reverses and is written at most once per
// broadcast message. Because the balance is money-equivalent, a commit
// failure is retried at this call site until durable.
func (s *Service) Credit(ctx context.Context, tenantID, broadcastID, broadcastMessageID string, amount float64) error {
	if amount <= 0 {
		return nil
	}

	op := func() error {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if broadcastMessageID != "" {
				var existing int64
				err := tx.Model(&models.WalletEntry{}).
					Where("broadcast_message_id = ? AND kind = ?", broadcastMessageID, models.EntryCredit).
					Count(&existing).Error
				if err != nil {
					return err
				}
				if existing > 0 {
					// Already reversed; a second credit would exceed the
					// original debit.
					return nil
				}
			}

			res := tx.Model(&models.Wallet{}).
				Where("tenant_id = ?", tenantID).
				Update("balance", gorm.Expr("balance + ?", amount))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Create(&models.Wallet{TenantID: tenantID, Balance: amount}).Error; err != nil {
					return err
				}
			}

			entry := models.WalletEntry{
				ID:                 uuid.NewString(),
				TenantID:           tenantID,
				BroadcastID:        broadcastID,
				BroadcastMessageID: broadcastMessageID,
				Kind:               models.EntryCredit,
				Amount:             amount,
				MessageCount:       1,
			}
			return tx.Create(&entry).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A racing handler slipped past the count check and committed
			// first; the unique index rolled this attempt back whole.
			return nil
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // keep retrying until the credit commits
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		s.logger.Error("Wallet credit did not commit",
			zap.String("tenantID", tenantID),
			zap.String("broadcastMessageID", broadcastMessageID),
			zap.Error(err))
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}

// Balance returns the current balance, zero if no wallet row exists yet.
func (s *Service) Balance(ctx context.Context, tenantID string) (float64, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load wallet: %w", err)
	}
	return w.Balance, nil
}

// Entries lists the tenant's ledger, newest first.
func (s *Service) Entries(ctx context.Context, tenantID string) ([]models.WalletEntry, error) {
	var entries []models.WalletEntry
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet entries: %w", err)
	}
	return entries, nil
}
