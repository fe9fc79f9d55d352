package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/tenants"
	wire "whatsapp-platform/pkg/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// unknownTenant tags audit rows for changes whose tenant could not be resolved.
const unknownTenant = "unknown"

// InboundHandler processes one classified change for a resolved tenant.
type InboundHandler interface {
	HandleInbound(ctx context.Context, tenant *models.Tenant, value *wire.ChangeValue) error
	UpdatePreference(ctx context.Context, tenant *models.Tenant, value *wire.ChangeValue) error
}

// ReceiptHandler applies delivery receipts.
type ReceiptHandler interface {
	Apply(ctx context.Context, tenantID string, value *wire.ChangeValue) error
}

// Handler is the webhook entry point: Meta's verification handshake plus the
// event dispatcher. Once a request parses as JSON it is always acknowledged
// with 200; Meta retries non-2xx responses and the payload will not get
// better on the second attempt.
type Handler struct {
	db          *gorm.DB
	tenants     *tenants.Service
	chat        InboundHandler
	receipts    ReceiptHandler
	verifyToken string
	logger      *zap.Logger
}

func NewHandler(db *gorm.DB, tn *tenants.Service, chat InboundHandler, receipts ReceiptHandler, verifyToken string, logger *zap.Logger) *Handler {
	return &Handler{
		db:          db,
		tenants:     tn,
		chat:        chat,
		receipts:    receipts,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// VerifyWebhook handles the GET subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		h.logger.Info("Webhook verified successfully")
		c.String(http.StatusOK, challenge)
		return
	}

	h.logger.Warn("Webhook verification failed", zap.String("mode", mode))
	c.Status(http.StatusForbidden)
}

// HandleEvent receives webhook deliveries. The only 400 is an unparseable
// body; every structural or processing failure past that point is audited
// and acknowledged.
func (h *Handler) HandleEvent(c *gin.Context) {
	var payload wire.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("Webhook body is not valid JSON", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	if payload.Object != "whatsapp_business_account" || len(payload.Entry) == 0 {
		h.audit(c.Request.Context(), unknownTenant, EventUnrecognized, &payload, "ERROR")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	for _, entry := range payload.Entry {
		for i := range entry.Changes {
			h.processChange(c.Request.Context(), &entry.Changes[i])
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// processChange routes one change. Failures are contained here so one broken
// change never blocks its siblings in the same delivery.
func (h *Handler) processChange(ctx context.Context, change *wire.Change) {
	kind := classify(change.Field, &change.Value)

	tenantID := unknownTenant
	tenant, err := h.tenants.ByPhoneNumberID(ctx, change.Value.Metadata.PhoneNumberID)
	if err == nil {
		tenantID = tenant.ID
	} else if !errors.Is(err, tenants.ErrNotFound) {
		h.logger.Error("Tenant resolution failed",
			zap.String("phoneNumberID", change.Value.Metadata.PhoneNumberID),
			zap.Error(err))
	}

	if kind == EventUnrecognized {
		h.logger.Info("Unrecognized webhook change",
			zap.String("field", change.Field), zap.String("tenantID", tenantID))
		h.audit(ctx, tenantID, kind, change, "SUCCESS")
		return
	}

	if tenant == nil {
		h.logger.Warn("Webhook change for unknown tenant",
			zap.String("field", change.Field),
			zap.String("phoneNumberID", change.Value.Metadata.PhoneNumberID))
		h.audit(ctx, tenantID, kind, change, "ERROR")
		return
	}

	if err := h.dispatch(ctx, tenant, kind, &change.Value); err != nil {
		h.logger.Error("Webhook change processing failed",
			zap.String("kind", string(kind)),
			zap.String("tenantID", tenant.ID),
			zap.Error(err))
		h.audit(ctx, tenant.ID, kind, change, "ERROR")
		return
	}
	h.audit(ctx, tenant.ID, kind, change, "SUCCESS")
}

func (h *Handler) dispatch(ctx context.Context, tenant *models.Tenant, kind EventKind, value *wire.ChangeValue) error {
	switch kind {
	case EventInboundMessage:
		return h.chat.HandleInbound(ctx, tenant, value)
	case EventDeliveryReceipt:
		return h.receipts.Apply(ctx, tenant.ID, value)
	case EventUserPreference:
		return h.chat.UpdatePreference(ctx, tenant, value)
	case EventTemplateStatus:
		return h.applyTemplateStatus(ctx, tenant.ID, value)
	case EventTemplateCategory:
		return h.applyTemplateCategory(ctx, tenant.ID, value)
	default:
		return nil
	}
}

// applyTemplateStatus records the provider-side template review outcome.
func (h *Handler) applyTemplateStatus(ctx context.Context, tenantID string, value *wire.ChangeValue) error {
	templateID := value.MessageTemplateID.String()
	if templateID == "" || value.Event == "" {
		return nil
	}

	updates := map[string]any{"status": value.Event}
	if reason := templateReason(value); reason != "" {
		updates["reason"] = reason
	}

	return h.db.WithContext(ctx).Model(&models.Template{}).
		Where("id = ? AND tenant_id = ?", templateID, tenantID).
		Updates(updates).Error
}

// applyTemplateCategory records a provider-initiated category change.
func (h *Handler) applyTemplateCategory(ctx context.Context, tenantID string, value *wire.ChangeValue) error {
	templateID := value.MessageTemplateID.String()
	category := value.NewCategory
	if category == "" {
		category = value.CorrectCategory
	}
	if templateID == "" || category == "" {
		return nil
	}

	return h.db.WithContext(ctx).Model(&models.Template{}).
		Where("id = ? AND tenant_id = ?", templateID, tenantID).
		Update("category", category).Error
}

func templateReason(value *wire.ChangeValue) string {
	for _, raw := range []json.RawMessage{value.RejectionInfo, value.DisableInfo, value.OtherInfo} {
		if len(raw) > 0 {
			return string(raw)
		}
	}
	return ""
}

// audit writes one WebhookLog row per change. Audit failures are logged and
// swallowed so bookkeeping never breaks acknowledgement.
func (h *Handler) audit(ctx context.Context, tenantID string, kind EventKind, payload any, status string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	row := models.WebhookLog{
		TenantID: tenantID,
		Kind:     string(kind),
		Payload:  string(raw),
		Status:   status,
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		h.logger.Error("Failed to write webhook audit log", zap.Error(err))
	}
}
