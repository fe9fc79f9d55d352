package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/stats"
	"whatsapp-platform/internal/tenants"
	"whatsapp-platform/internal/wallet"
	wire "whatsapp-platform/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Sender dispatches one prepared template message and returns the provider
// message id.
type Sender interface {
	SendTemplate(ctx context.Context, tenant *models.Tenant, p wire.SendPayload) (string, error)
}

// Recipient is one audience member of a new broadcast.
type Recipient struct {
	MobileNo      string   `json:"mobileNo"`
	ContactID     string   `json:"contactId"`
	BodyVariables []string `json:"bodyVariables"`
}

// CreateRequest carries everything needed to prepare a campaign.
type CreateRequest struct {
	TemplateID      string                `json:"templateId"`
	TemplateName    string                `json:"templateName"`
	Language        string                `json:"language"`
	Type            string                `json:"type"`
	AdminName       string                `json:"adminName"`
	AttachmentID    string                `json:"attachmentId"`
	AudienceType    int                   `json:"audienceType"`
	HeaderVariables *wire.HeaderVariables `json:"headerVariables"`
	ButtonVariables []wire.ButtonVariable `json:"buttonVariables"`
	Recipients      []Recipient           `json:"contacts"`
	MessageCost     float64               `json:"messageCost"`
}

// Service owns the broadcast dispatch pipeline: synchronous creation with
// wallet debit, and a detached paced worker per started broadcast.
type Service struct {
	db        *gorm.DB
	wallet    *wallet.Service
	stats     *stats.Service
	tenants   *tenants.Service
	sender    Sender
	pace      time.Duration
	location  *time.Location
	serverURL string
	logger    *zap.Logger
}

func NewService(db *gorm.DB, w *wallet.Service, st *stats.Service, tn *tenants.Service, sender Sender, pace time.Duration, loc *time.Location, serverURL string, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		wallet:    w,
		stats:     st,
		tenants:   tn,
		sender:    sender,
		pace:      pace,
		location:  loc,
		serverURL: serverURL,
		logger:    logger,
	}
}

// Create prepares a Draft broadcast in a single transaction: one pending
// BroadcastMessage per recipient, the wallet debited by the total projected
// cost, and one ledger entry.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (string, error) {
	if len(req.Recipients) == 0 {
		return "", fmt.Errorf("broadcast has no recipients")
	}

	broadcastID := uuid.NewString()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b := models.Broadcast{
			ID:           broadcastID,
			TenantID:     tenantID,
			TemplateID:   req.TemplateID,
			AdminName:    req.AdminName,
			AttachmentID: req.AttachmentID,
			AudienceType: req.AudienceType,
			Status:       models.BroadcastDraft,
		}
		if err := tx.Create(&b).Error; err != nil {
			return fmt.Errorf("failed to create broadcast: %w", err)
		}

		for _, recipient := range req.Recipients {
			payload := wire.SendPayload{
				Template:        req.TemplateName,
				Language:        req.Language,
				Type:            req.Type,
				MobileNo:        recipient.MobileNo,
				BodyVariables:   recipient.BodyVariables,
				HeaderVariables: req.HeaderVariables,
				ButtonVariables: req.ButtonVariables,
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to encode send payload: %w", err)
			}

			bm := models.BroadcastMessage{
				ID:          uuid.NewString(),
				BroadcastID: broadcastID,
				TenantID:    tenantID,
				MobileNo:    recipient.MobileNo,
				ContactID:   recipient.ContactID,
				Payload:     string(raw),
				Status:      models.StatusPending,
				Cost:        req.MessageCost,
			}
			if err := tx.Create(&bm).Error; err != nil {
				return fmt.Errorf("failed to create broadcast message: %w", err)
			}
		}

		totalCost := req.MessageCost * float64(len(req.Recipients))
		return s.wallet.Debit(tx, tenantID, totalCost, broadcastID, len(req.Recipients))
	})
	if err != nil {
		return "", err
	}
	return broadcastID, nil
}

// Start transitions the broadcast to Sending and launches the detached
// dispatch worker. It returns as soon as the transition commits.
func (s *Service) Start(ctx context.Context, tenantID, broadcastID string) error {
	var b models.Broadcast
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", broadcastID, tenantID).
		First(&b).Error
	if err != nil {
		return fmt.Errorf("broadcast %s not found: %w", broadcastID, err)
	}

	err = s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ?", broadcastID).
		Update("status", models.BroadcastSending).Error
	if err != nil {
		return fmt.Errorf("failed to mark broadcast sending: %w", err)
	}

	s.logger.Info("Starting broadcast",
		zap.String("tenantID", tenantID),
		zap.String("broadcastID", broadcastID))

	// The worker outlives the HTTP request on purpose; a crash mid-flight
	// leaves per-message state committed and the broadcast marked Failed.
	go s.run(context.Background(), tenantID, broadcastID)
	return nil
}

func (s *Service) run(ctx context.Context, tenantID, broadcastID string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Broadcast worker panicked",
				zap.String("broadcastID", broadcastID),
				zap.Any("panic", rec))
			s.finish(ctx, broadcastID, models.BroadcastFailed)
		}
	}()

	tenant, err := s.tenants.ByID(ctx, tenantID)
	if err != nil {
		s.logger.Error("Broadcast worker could not resolve tenant",
			zap.String("tenantID", tenantID), zap.Error(err))
		s.finish(ctx, broadcastID, models.BroadcastFailed)
		return
	}

	var pending []models.BroadcastMessage
	err = s.db.WithContext(ctx).
		Where("broadcast_id = ? AND status = ?", broadcastID, models.StatusPending).
		Order("created_at ASC").
		Find(&pending).Error
	if err != nil {
		s.logger.Error("Broadcast worker could not load messages",
			zap.String("broadcastID", broadcastID), zap.Error(err))
		s.finish(ctx, broadcastID, models.BroadcastFailed)
		return
	}

	s.logger.Info("Processing broadcast messages",
		zap.String("broadcastID", broadcastID),
		zap.Int("count", len(pending)))

	// Sends are strictly sequential with an inter-send delay. The pacing is
	// a rate limit against the provider API, not an optimization target.
	limiter := rate.NewLimiter(rate.Every(s.pace), 1)

	for i := range pending {
		if err := limiter.Wait(ctx); err != nil {
			s.finish(ctx, broadcastID, models.BroadcastFailed)
			return
		}
		s.dispatchOne(ctx, tenant, &pending[i])
	}

	s.finish(ctx, broadcastID, models.BroadcastSent)
	s.logger.Info("Broadcast completed", zap.String("broadcastID", broadcastID))
}

func (s *Service) dispatchOne(ctx context.Context, tenant *models.Tenant, bm *models.BroadcastMessage) {
	var payload wire.SendPayload
	if err := json.Unmarshal([]byte(bm.Payload), &payload); err != nil {
		s.fail(ctx, tenant.ID, bm, fmt.Errorf("invalid payload: %w", err))
		return
	}

	waMessageID, err := s.sender.SendTemplate(ctx, tenant, payload)
	if err != nil {
		s.fail(ctx, tenant.ID, bm, err)
		return
	}

	now := time.Now().In(s.location)
	err = s.db.WithContext(ctx).Model(&models.BroadcastMessage{}).
		Where("id = ?", bm.ID).
		Updates(map[string]any{
			"status":              models.StatusSent,
			"whatsapp_message_id": waMessageID,
			"sent_at":             now,
		}).Error
	if err != nil {
		s.logger.Error("Failed to record sent broadcast message",
			zap.String("broadcastMessageID", bm.ID), zap.Error(err))
		return
	}

	if err := s.stats.Increment(ctx, tenant.ID, models.StatusSent); err != nil {
		s.logger.Error("Daily stats update failed", zap.Error(err))
	}
}

func (s *Service) fail(ctx context.Context, tenantID string, bm *models.BroadcastMessage, sendErr error) {
	s.logger.Error("Failed to send broadcast message",
		zap.String("broadcastMessageID", bm.ID),
		zap.Error(sendErr))

	now := time.Now().In(s.location)
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BroadcastMessage{}).
			Where("id = ? AND status = ?", bm.ID, models.StatusPending).
			Updates(map[string]any{
				"status":     models.StatusFailed,
				"error_code": sendErr.Error(),
				"failed_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		// A send-API failure produces no receipt, so the campaign counter
		// moves here or never.
		return tx.Model(&models.Broadcast{}).
			Where("id = ?", bm.BroadcastID).
			Update("failed", gorm.Expr("failed + 1")).Error
	})
	if err != nil {
		s.logger.Error("Failed to record failed broadcast message",
			zap.String("broadcastMessageID", bm.ID), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	if err := s.stats.Increment(ctx, tenantID, models.StatusFailed); err != nil {
		s.logger.Error("Daily stats update failed", zap.Error(err))
	}

	if err := s.wallet.Credit(ctx, tenantID, bm.BroadcastID, bm.ID, bm.Cost); err != nil {
		s.logger.Error("Failed to credit failed broadcast message",
			zap.String("broadcastMessageID", bm.ID), zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, broadcastID string, status models.BroadcastStatus) {
	err := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ?", broadcastID).
		Update("status", status).Error
	if err != nil {
		s.logger.Error("Failed to finalize broadcast",
			zap.String("broadcastID", broadcastID), zap.Error(err))
	}
}

// List returns the tenant's broadcasts, newest first.
func (s *Service) List(ctx context.Context, tenantID string) ([]models.Broadcast, error) {
	var broadcasts []models.Broadcast
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&broadcasts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	return broadcasts, nil
}

// Detail returns one broadcast with all its per-recipient messages.
func (s *Service) Detail(ctx context.Context, tenantID, broadcastID string) (*models.Broadcast, []models.BroadcastMessage, error) {
	var b models.Broadcast
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", broadcastID, tenantID).
		First(&b).Error
	if err != nil {
		return nil, nil, fmt.Errorf("broadcast %s not found: %w", broadcastID, err)
	}

	var messages []models.BroadcastMessage
	err = s.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Find(&messages).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load broadcast messages: %w", err)
	}
	return &b, messages, nil
}
