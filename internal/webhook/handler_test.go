package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/tenants"
	wire "whatsapp-platform/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubChat struct {
	inbound     []*wire.ChangeValue
	preferences []*wire.ChangeValue
	inboundErr  error
}

func (s *stubChat) HandleInbound(ctx context.Context, tenant *models.Tenant, value *wire.ChangeValue) error {
	s.inbound = append(s.inbound, value)
	return s.inboundErr
}

func (s *stubChat) UpdatePreference(ctx context.Context, tenant *models.Tenant, value *wire.ChangeValue) error {
	s.preferences = append(s.preferences, value)
	return nil
}

type stubReceipts struct {
	applied []*wire.ChangeValue
}

func (s *stubReceipts) Apply(ctx context.Context, tenantID string, value *wire.ChangeValue) error {
	s.applied = append(s.applied, value)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

type fixture struct {
	db       *gorm.DB
	chat     *stubChat
	receipts *stubReceipts
	router   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", PhoneNumberID: "pn1"}).Error)

	f := &fixture{
		db:       db,
		chat:     &stubChat{},
		receipts: &stubReceipts{},
	}
	handler := NewHandler(db, tenants.NewService(db, nil, time.Minute, zap.NewNop()),
		f.chat, f.receipts, "secret-token", zap.NewNop())

	f.router = gin.New()
	f.router.GET("/webhook", handler.VerifyWebhook)
	f.router.POST("/webhook", handler.HandleEvent)
	return f
}

func (f *fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) auditRows(t *testing.T) []models.WebhookLog {
	t.Helper()
	var rows []models.WebhookLog
	require.NoError(t, f.db.Find(&rows).Error)
	return rows
}

const inboundPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "waba1",
		"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "pn1"},
				"contacts": [{"wa_id": "919876543210", "profile": {"name": "Asha"}}],
				"messages": [{"from": "919876543210", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}}]
			}
		}]
	}]
}`

func TestVerifyWebhookEchoesChallenge(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerifyWebhookRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleEventRejectsInvalidJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{"object": "whatsapp`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.auditRows(t))
}

func TestHandleEventAcknowledgesEmptyEnvelope(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{"object": "whatsapp_business_account", "entry": []}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rows := f.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, unknownTenant, rows[0].TenantID)
	assert.Equal(t, "ERROR", rows[0].Status)
}

func TestHandleEventRoutesInboundMessages(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, inboundPayload)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.chat.inbound, 1)
	assert.Empty(t, f.receipts.applied)

	rows := f.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].TenantID)
	assert.Equal(t, string(EventInboundMessage), rows[0].Kind)
	assert.Equal(t, "SUCCESS", rows[0].Status)
}

func TestHandleEventRoutesReceipts(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "pn1"},
				"statuses": [{"id": "wamid.1", "status": "delivered", "timestamp": "1700000000"}]
			}
		}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.receipts.applied, 1)
	assert.Empty(t, f.chat.inbound)
}

func TestHandleEventRoutesUserPreferences(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "user_preferences",
			"value": {
				"metadata": {"phone_number_id": "pn1"},
				"user_preferences": [{"wa_id": "919876543210", "value": "stop", "timestamp": "1700000000"}]
			}
		}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.chat.preferences, 1)
}

func TestHandleEventAuditsUnrecognizedField(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "account_review_update",
			"value": {"metadata": {"phone_number_id": "pn1"}}
		}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.chat.inbound)

	rows := f.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, string(EventUnrecognized), rows[0].Kind)
	assert.Equal(t, "SUCCESS", rows[0].Status)
}

func TestHandleEventUnknownTenantStillAcknowledged(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "ghost"},
				"messages": [{"from": "919876543210", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}}]
			}
		}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.chat.inbound)

	rows := f.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, unknownTenant, rows[0].TenantID)
	assert.Equal(t, "ERROR", rows[0].Status)
}

func TestHandleEventIsolatesFailingChange(t *testing.T) {
	f := newFixture(t)
	f.chat.inboundErr = errors.New("handler broke")

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [
			{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "pn1"},
					"messages": [{"from": "919876543210", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}}]
				}
			},
			{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "pn1"},
					"statuses": [{"id": "wamid.2", "status": "delivered", "timestamp": "1700000000"}]
				}
			}
		]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Both changes processed despite the first one failing.
	require.Len(t, f.chat.inbound, 1)
	require.Len(t, f.receipts.applied, 1)

	rows := f.auditRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "ERROR", rows[0].Status)
	assert.Equal(t, "SUCCESS", rows[1].Status)
}

func TestHandleEventUpdatesTemplateStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Template{
		ID: "777", TenantID: "t1", Name: "order_update", Status: "PENDING",
	}).Error)

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "message_template_status_update",
			"value": {
				"metadata": {"phone_number_id": "pn1"},
				"message_template_id": 777,
				"message_template_name": "order_update",
				"event": "REJECTED",
				"rejection_info": {"reason": "policy"}
			}
		}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var tmpl models.Template
	require.NoError(t, f.db.First(&tmpl, "id = ?", "777").Error)
	assert.Equal(t, "REJECTED", tmpl.Status)
	assert.Contains(t, tmpl.Reason, "policy")
}

func TestHandleEventUpdatesTemplateCategory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Template{
		ID: "777", TenantID: "t1", Category: "MARKETING",
	}).Error)

	rec := f.post(t, `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "template_category_update",
			"value": {
				"metadata": {"phone_number_id": "pn1"},
				"message_template_id": 777,
				"new_category": "UTILITY"
			}
		}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var tmpl models.Template
	require.NoError(t, f.db.First(&tmpl, "id = ?", "777").Error)
	assert.Equal(t, "UTILITY", tmpl.Category)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		field string
		value wire.ChangeValue
		want  EventKind
	}{
		{"inbound", "messages", wire.ChangeValue{Messages: []wire.IncomingMessage{{}}}, EventInboundMessage},
		{"receipt", "messages", wire.ChangeValue{Statuses: []wire.StatusUpdate{{}}}, EventDeliveryReceipt},
		{"receipt wins over inbound", "messages", wire.ChangeValue{
			Messages: []wire.IncomingMessage{{}},
			Statuses: []wire.StatusUpdate{{}},
		}, EventDeliveryReceipt},
		{"preference on messages field", "messages", wire.ChangeValue{UserPreferences: []wire.UserPreference{{}}}, EventUserPreference},
		{"preference field", "user_preferences", wire.ChangeValue{}, EventUserPreference},
		{"template status", "message_template_status_update", wire.ChangeValue{}, EventTemplateStatus},
		{"template category", "template_category_update", wire.ChangeValue{}, EventTemplateCategory},
		{"empty messages", "messages", wire.ChangeValue{}, EventUnrecognized},
		{"unknown field", "account_review_update", wire.ChangeValue{}, EventUnrecognized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.field, &tc.value))
		})
	}
}
