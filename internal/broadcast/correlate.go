package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-platform/internal/models"
	wire "whatsapp-platform/pkg/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MergePendingTemplate lazily materializes a broadcast template into the
// recipient's chat history once they reply. It looks up a delivered or read
// BroadcastMessage for this recipient in an active campaign via the indexed
// recipient columns, renders the template into a synthetic chat message, and
// flips the added_to_chat flag. The conditional flag update guarantees the
// merge happens at most once even when reply handling runs concurrently.
func (s *Service) MergePendingTemplate(ctx context.Context, tenantID, contactID, fullPhoneNumber, chatID string) (*models.Message, error) {
	var bm models.BroadcastMessage
	err := s.db.WithContext(ctx).
		Joins("JOIN broadcasts ON broadcasts.id = broadcast_messages.broadcast_id").
		Where("broadcasts.tenant_id = ? AND broadcasts.status IN ?", tenantID,
			[]models.BroadcastStatus{models.BroadcastSending, models.BroadcastSent}).
		Where("broadcast_messages.status IN ?",
			[]models.MessageStatus{models.StatusDelivered, models.StatusRead}).
		Where("broadcast_messages.added_to_chat = ?", false).
		Where("(broadcasts.audience_type = ? AND broadcast_messages.mobile_no = ?) OR (broadcasts.audience_type <> ? AND broadcast_messages.contact_id = ?)",
			models.AudiencePhoneList, fullPhoneNumber, models.AudiencePhoneList, contactID).
		Order("broadcast_messages.created_at DESC").
		First(&bm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find broadcast message for reply: %w", err)
	}

	var b models.Broadcast
	if err := s.db.WithContext(ctx).Where("id = ?", bm.BroadcastID).First(&b).Error; err != nil {
		return nil, fmt.Errorf("failed to load broadcast %s: %w", bm.BroadcastID, err)
	}

	var tmpl models.Template
	err = s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", b.TemplateID, tenantID).
		First(&tmpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("Template missing for broadcast reply merge",
				zap.String("templateID", b.TemplateID))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load template %s: %w", b.TemplateID, err)
	}

	msg, err := s.renderTemplateMessage(tenantID, &tmpl, &bm, &b)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	msg.ChatID = chatID
	msg.TenantID = tenantID

	var created *models.Message
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BroadcastMessage{}).
			Where("id = ? AND added_to_chat = ?", bm.ID, false).
			Update("added_to_chat", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent reply handler merged it already.
			return nil
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		created = msg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge broadcast message into chat: %w", err)
	}
	return created, nil
}

// templateComponent mirrors the provider's stored template component JSON.
type templateComponent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Buttons []struct {
		Text string `json:"text"`
	} `json:"buttons"`
}

func (s *Service) renderTemplateMessage(tenantID string, tmpl *models.Template, bm *models.BroadcastMessage, b *models.Broadcast) (*models.Message, error) {
	var payload wire.SendPayload
	if err := json.Unmarshal([]byte(bm.Payload), &payload); err != nil {
		return nil, fmt.Errorf("invalid broadcast message payload: %w", err)
	}

	var components []templateComponent
	if tmpl.Components != "" {
		if err := json.Unmarshal([]byte(tmpl.Components), &components); err != nil {
			return nil, fmt.Errorf("invalid template components: %w", err)
		}
	}

	var header, body, footer, buttons templateComponent
	for _, c := range components {
		switch strings.ToUpper(c.Type) {
		case "HEADER":
			header = c
		case "BODY":
			body = c
		case "FOOTER":
			footer = c
		case "BUTTONS":
			buttons = c
		}
	}

	content := replaceBodyParams(body.Text, payload.BodyVariables)
	if footer.Text != "" {
		content += "\n\n" + footer.Text
	}

	status := bm.Status
	var statusAt *time.Time
	switch status {
	case models.StatusRead:
		statusAt = bm.ReadAt
	case models.StatusDelivered:
		statusAt = bm.DeliveredAt
	default:
		statusAt = bm.SentAt
	}

	msg := &models.Message{
		Content:           content,
		IsFromMe:          true,
		SenderName:        b.AdminName,
		Status:            status,
		WhatsAppMessageID: bm.WhatsAppMessageID,
		MessageType:       "text",
		Timestamp:         time.Now().In(s.location),
	}
	switch status {
	case models.StatusRead:
		msg.ReadAt = statusAt
	case models.StatusDelivered:
		msg.DeliveredAt = statusAt
	default:
		msg.SentAt = statusAt
	}

	switch strings.ToUpper(payload.Type) {
	case wire.PayloadMedia:
		fileName := ""
		mediaType := ""
		if payload.HeaderVariables != nil {
			fileName = payload.HeaderVariables.Data.FileName
			mediaType = strings.ToLower(payload.HeaderVariables.Type)
		}
		msg.FileName = fileName
		msg.MediaURL = s.attachmentURL(tenantID, b.AttachmentID, fileName)
		msg.MessageType = mediaType
	case wire.PayloadInteractive:
		if payload.HeaderVariables != nil && payload.HeaderVariables.Type != "text" {
			fileName := payload.HeaderVariables.Data.FileName
			msg.FileName = fileName
			msg.MediaURL = s.attachmentURL(tenantID, b.AttachmentID, fileName)
		}
		if len(buttons.Buttons) > 0 {
			var labels []string
			for _, btn := range buttons.Buttons {
				labels = append(labels, "["+btn.Text+"]")
			}
			msg.Content += "\n\n" + strings.Join(labels, "\n")
		}
		msg.MessageType = "interactive"
	default: // TEXT
		if header.Text != "" {
			msg.Content = "*" + header.Text + "*\n" + msg.Content
		}
	}

	return msg, nil
}

func (s *Service) attachmentURL(tenantID, attachmentID, fileName string) string {
	if fileName == "" {
		return ""
	}
	return fmt.Sprintf("%s/static/broadcasts_media/%s/%s/%s", s.serverURL, tenantID, attachmentID, fileName)
}

func replaceBodyParams(text string, variables []string) string {
	for i, v := range variables {
		text = strings.ReplaceAll(text, fmt.Sprintf("{{%d}}", i+1), v)
	}
	return text
}
