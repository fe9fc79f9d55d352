package status

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/stats"
	"whatsapp-platform/internal/wallet"
	wire "whatsapp-platform/pkg/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is the realtime fan-out sink.
type Notifier interface {
	Publish(tenantID string, event any)
}

// StatusEvent is pushed to live sessions whenever a receipt applies.
type StatusEvent struct {
	Type              string `json:"type"`
	WhatsAppMessageID string `json:"whatsappMessageId"`
	Status            string `json:"status"`
}

// Reconciler applies delivery receipts to broadcast messages and chat
// messages. Broadcast receipts update the campaign's terminal timestamps and
// aggregate counters and may trigger a wallet credit; chat receipts obey the
// monotonic priority rule. Receipts matching nothing are logged and dropped.
type Reconciler struct {
	db       *gorm.DB
	wallet   *wallet.Service
	stats    *stats.Service
	notifier Notifier
	loc      *time.Location
	logger   *zap.Logger
}

func NewReconciler(db *gorm.DB, w *wallet.Service, st *stats.Service, n Notifier, loc *time.Location, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, wallet: w, stats: st, notifier: n, loc: loc, logger: logger}
}

// Apply processes every receipt in one webhook change.
func (r *Reconciler) Apply(ctx context.Context, tenantID string, value *wire.ChangeValue) error {
	if len(value.Statuses) == 0 {
		return nil
	}

	var firstErr error
	for _, receipt := range value.Statuses {
		if receipt.ID == "" {
			continue
		}
		if err := r.applyOne(ctx, tenantID, receipt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reconciler) applyOne(ctx context.Context, tenantID string, receipt wire.StatusUpdate) error {
	newStatus := models.MessageStatus(receipt.Status)
	at := r.receiptTime(receipt.Timestamp)

	handled, err := r.applyToBroadcastMessage(ctx, tenantID, receipt, newStatus, at)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	handled, err = r.applyToChatMessage(ctx, tenantID, receipt, newStatus, at)
	if err != nil {
		return err
	}
	if !handled {
		// Receipts are not redelivered and the message may simply have been
		// removed; dropping is correct, not an error.
		r.logger.Info("Receipt matched no message, dropping",
			zap.String("tenantID", tenantID),
			zap.String("whatsappMessageID", receipt.ID),
			zap.String("status", receipt.Status))
	}
	return nil
}

func (r *Reconciler) applyToBroadcastMessage(ctx context.Context, tenantID string, receipt wire.StatusUpdate, newStatus models.MessageStatus, at time.Time) (bool, error) {
	var bm models.BroadcastMessage
	err := r.db.WithContext(ctx).
		Where("whatsapp_message_id = ? AND tenant_id = ?", receipt.ID, tenantID).
		First(&bm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up broadcast message: %w", err)
	}

	if bm.Status == newStatus {
		// The worker marks the row sent at dispatch, so the provider's own
		// sent receipt lands on a matching status and still has accounting
		// to do. Any other matching status is a plain duplicate.
		if newStatus == models.StatusSent {
			return r.confirmSent(ctx, tenantID, &bm, receipt, at)
		}
		return true, nil
	}

	counter, ok := counterFor(newStatus)
	if !ok {
		return true, nil
	}

	updates := map[string]any{"status": newStatus}
	switch newStatus {
	case models.StatusFailed:
		updates["failed_at"] = at
		if len(receipt.Errors) > 0 {
			updates["error_code"] = strconv.Itoa(receipt.Errors[0].Code)
		}
	case models.StatusSent:
		updates["sent_at"] = at
		updates["sent_confirmed"] = true
	case models.StatusDelivered:
		updates["delivered_at"] = at
	case models.StatusRead:
		updates["read_at"] = at
	}

	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional on the old status so a racing duplicate applies once.
		res := tx.Model(&models.BroadcastMessage{}).
			Where("id = ? AND status = ?", bm.ID, bm.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return tx.Model(&models.Broadcast{}).
			Where("id = ?", bm.BroadcastID).
			Update(counter, gorm.Expr(counter+" + 1")).Error
	})
	if err != nil {
		return true, fmt.Errorf("failed to apply broadcast receipt: %w", err)
	}
	if !applied {
		// A concurrent receipt won the race and did the accounting.
		return true, nil
	}

	// Credit the wallet for messages that never become billable: explicit
	// failures, and sent receipts whose pricing says not billable.
	if newStatus == models.StatusFailed ||
		(newStatus == models.StatusSent && receipt.Pricing != nil && !receipt.Pricing.Billable) {
		if err := r.wallet.Credit(ctx, tenantID, bm.BroadcastID, bm.ID, bm.Cost); err != nil {
			return true, err
		}
	}

	if err := r.stats.Increment(ctx, tenantID, newStatus); err != nil {
		r.logger.Error("Daily stats update failed", zap.Error(err))
	}

	r.notifier.Publish(tenantID, StatusEvent{
		Type:              "status_update",
		WhatsAppMessageID: receipt.ID,
		Status:            receipt.Status,
	})
	return true, nil
}

// confirmSent applies the provider's sent receipt to a message the worker
// already marked sent: bump the campaign counter once and settle billability.
// Later duplicates match no rows on the confirmation flag.
func (r *Reconciler) confirmSent(ctx context.Context, tenantID string, bm *models.BroadcastMessage, receipt wire.StatusUpdate, at time.Time) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BroadcastMessage{}).
			Where("id = ? AND sent_confirmed = ?", bm.ID, false).
			Updates(map[string]any{"sent_confirmed": true, "sent_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return tx.Model(&models.Broadcast{}).
			Where("id = ?", bm.BroadcastID).
			Update("sent", gorm.Expr("sent + 1")).Error
	})
	if err != nil {
		return true, fmt.Errorf("failed to confirm sent receipt: %w", err)
	}
	if !applied {
		return true, nil
	}

	if receipt.Pricing != nil && !receipt.Pricing.Billable {
		if err := r.wallet.Credit(ctx, tenantID, bm.BroadcastID, bm.ID, bm.Cost); err != nil {
			return true, err
		}
	}

	r.notifier.Publish(tenantID, StatusEvent{
		Type:              "status_update",
		WhatsAppMessageID: receipt.ID,
		Status:            receipt.Status,
	})
	return true, nil
}

func (r *Reconciler) applyToChatMessage(ctx context.Context, tenantID string, receipt wire.StatusUpdate, newStatus models.MessageStatus, at time.Time) (bool, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("whatsapp_message_id = ? AND tenant_id = ?", receipt.ID, tenantID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up chat message: %w", err)
	}

	current := msg.Status
	if current == "" {
		current = models.StatusSent
	}

	// Duplicate receipt: no-op.
	if current == newStatus {
		return true, nil
	}

	// Monotonic non-regression: a late delivered receipt never downgrades
	// an already-read message.
	if newStatus.Priority() < current.Priority() {
		r.logger.Info("Skipping stale status receipt",
			zap.String("whatsappMessageID", receipt.ID),
			zap.String("current", string(current)),
			zap.String("incoming", string(newStatus)))
		return true, nil
	}

	updates := map[string]any{"status": newStatus}
	switch newStatus {
	case models.StatusFailed:
		updates["failed_at"] = at
		if len(receipt.Errors) > 0 {
			updates["error_code"] = receipt.Errors[0].Code
			if receipt.Errors[0].ErrorData != nil {
				updates["error_description"] = receipt.Errors[0].ErrorData.Details
			}
		}
	case models.StatusDelivered:
		updates["delivered_at"] = at
	case models.StatusRead:
		updates["read_at"] = at
	case models.StatusSent:
		updates["sent_at"] = at
	}

	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ?", msg.ID, msg.Status).
		Updates(updates)
	if res.Error != nil {
		return true, fmt.Errorf("failed to apply chat receipt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race to a concurrent receipt; that one did the work.
		return true, nil
	}

	if newStatus == models.StatusDelivered || newStatus == models.StatusRead {
		if err := r.stats.Increment(ctx, tenantID, newStatus); err != nil {
			r.logger.Error("Daily stats update failed", zap.Error(err))
		}
	}

	r.notifier.Publish(tenantID, StatusEvent{
		Type:              "status_update",
		WhatsAppMessageID: receipt.ID,
		Status:            receipt.Status,
	})
	return true, nil
}

func (r *Reconciler) receiptTime(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(secs, 0).In(r.loc)
	}
	return time.Now().In(r.loc)
}

func counterFor(s models.MessageStatus) (string, bool) {
	switch s {
	case models.StatusSent:
		return "sent", true
	case models.StatusDelivered:
		return "delivered", true
	case models.StatusRead:
		return "read", true
	case models.StatusFailed:
		return "failed", true
	default:
		return "", false
	}
}
