package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-platform/internal/media"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/stats"
	"whatsapp-platform/internal/tenants"
	wire "whatsapp-platform/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is the realtime fan-out sink.
type Notifier interface {
	Publish(tenantID string, event any)
}

// MediaStore downloads and persists an inbound attachment.
type MediaStore interface {
	Download(ctx context.Context, tenantID, mediaID, mimeType, originalFilename, messageID string) (*media.Stored, error)
}

// Merger lazily materializes a pending broadcast template into the chat.
type Merger interface {
	MergePendingTemplate(ctx context.Context, tenantID, contactID, fullPhoneNumber, chatID string) (*models.Message, error)
}

// Sender dispatches operator messages through the provider.
type Sender interface {
	SendText(ctx context.Context, tenant *models.Tenant, to, body string) (string, error)
	SendMedia(ctx context.Context, tenant *models.Tenant, to, mediaType, link, caption, filename string) (string, error)
}

// NewMessageEvent is pushed to live sessions when a message lands in a chat.
type NewMessageEvent struct {
	Type    string          `json:"type"`
	ChatID  string          `json:"chatId"`
	Message *models.Message `json:"message"`
}

// Service resolves inbound senders to durable contact+chat identities and
// appends messages to the conversation log. Contact/chat upsert and message
// append run as separate transactions on purpose: a crash between them may
// leave a chat updated without its message, which is acceptable, but each
// step commits whole.
type Service struct {
	db       *gorm.DB
	tenants  *tenants.Service
	mediaDL  MediaStore
	merger   Merger
	sender   Sender
	stats    *stats.Service
	notifier Notifier
	location *time.Location
	logger   *zap.Logger
}

func NewService(db *gorm.DB, tn *tenants.Service, mediaDL MediaStore, merger Merger, sender Sender, st *stats.Service, n Notifier, loc *time.Location, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		tenants:  tn,
		mediaDL:  mediaDL,
		merger:   merger,
		sender:   sender,
		stats:    st,
		notifier: n,
		location: loc,
		logger:   logger,
	}
}

// HandleInbound processes every message in one webhook change.
func (s *Service) HandleInbound(ctx context.Context, tenant *models.Tenant, value *wire.ChangeValue) error {
	profileName := ""
	if len(value.Contacts) > 0 {
		profileName = value.Contacts[0].Profile.Name
	}

	var firstErr error
	for _, msg := range value.Messages {
		if err := s.handleInboundMessage(ctx, tenant, msg, profileName); err != nil {
			s.logger.Error("Failed to handle inbound message",
				zap.String("messageID", msg.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) handleInboundMessage(ctx context.Context, tenant *models.Tenant, msg wire.IncomingMessage, profileName string) error {
	parts := ExtractPhone(msg.From)

	body, ok := s.extractContent(ctx, tenant.ID, msg)
	if !ok {
		s.logger.Info("Unsupported message type, skipping",
			zap.String("type", msg.Type), zap.String("from", msg.From))
		return nil
	}

	contact, chatRow, err := s.upsertContactChat(ctx, tenant.ID, parts, profileName, body.content, true)
	if err != nil {
		return err
	}

	// A reply from a broadcast recipient pulls the original template send
	// into the conversation, exactly once per broadcast message.
	if s.merger != nil {
		if _, err := s.merger.MergePendingTemplate(ctx, tenant.ID, contact.ID, parts.FullNumber(), chatRow.ID); err != nil {
			s.logger.Error("Broadcast reply merge failed",
				zap.String("contactID", contact.ID), zap.Error(err))
		}
	}

	record := models.Message{
		ChatID:            chatRow.ID,
		TenantID:          tenant.ID,
		Content:           body.content,
		Timestamp:         s.messageTime(msg.Timestamp),
		IsFromMe:          false,
		SenderName:        contactName(contact, parts.Number),
		Status:            models.StatusDelivered,
		WhatsAppMessageID: msg.ID,
		MessageType:       msg.Type,
		MediaURL:          body.mediaURL,
		FileName:          body.fileName,
		MimeType:          body.mimeType,
		Caption:           body.caption,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to store inbound message: %w", err)
	}

	s.notifier.Publish(tenant.ID, NewMessageEvent{
		Type:    "new_message",
		ChatID:  chatRow.ID,
		Message: &record,
	})
	return nil
}

type inboundBody struct {
	content  string
	mediaURL string
	fileName string
	mimeType string
	caption  string
}

func (s *Service) extractContent(ctx context.Context, tenantID string, msg wire.IncomingMessage) (inboundBody, bool) {
	var body inboundBody

	switch msg.Type {
	case "text":
		body.content = msg.Text.Body

	case "image":
		if msg.Image == nil {
			return body, false
		}
		body.caption = msg.Image.Caption
		body.mimeType = orDefault(msg.Image.MimeType, "image/jpeg")
		body.content = orDefault(body.caption, "📷 Image")
		s.fetchMedia(ctx, tenantID, msg.Image.ID, body.mimeType, "", msg.ID, &body, "[Failed to save image]")

	case "video":
		if msg.Video == nil {
			return body, false
		}
		body.caption = msg.Video.Caption
		body.mimeType = orDefault(msg.Video.MimeType, "video/mp4")
		body.content = orDefault(body.caption, "🎥 Video")
		s.fetchMedia(ctx, tenantID, msg.Video.ID, body.mimeType, "", msg.ID, &body, "[Failed to save video]")

	case "document":
		if msg.Document == nil {
			return body, false
		}
		body.caption = msg.Document.Caption
		body.fileName = orDefault(msg.Document.Filename, "document")
		body.mimeType = orDefault(msg.Document.MimeType, "application/octet-stream")
		body.content = orDefault(body.caption, "📄 "+body.fileName)
		s.fetchMedia(ctx, tenantID, msg.Document.ID, body.mimeType, body.fileName, msg.ID,
			&body, "[Failed to save document: "+body.fileName+"]")

	case "audio", "voice":
		if msg.Audio == nil {
			return body, false
		}
		body.mimeType = orDefault(msg.Audio.MimeType, "audio/ogg")
		if msg.Audio.Voice {
			body.content = "🎤 Voice Message"
			s.fetchMedia(ctx, tenantID, msg.Audio.ID, body.mimeType, "voice_"+msg.ID+".ogg", msg.ID,
				&body, "[Failed to save audio]")
		} else {
			body.content = "🎵 Audio"
			s.fetchMedia(ctx, tenantID, msg.Audio.ID, body.mimeType, "", msg.ID, &body, "[Failed to save audio]")
		}

	case "button":
		if msg.Button == nil {
			return body, false
		}
		body.content = orDefault(msg.Button.Text, "Button")

	case "interactive":
		if msg.Interactive == nil {
			return body, false
		}
		switch {
		case msg.Interactive.ButtonReply != nil:
			body.content = msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil:
			body.content = msg.Interactive.ListReply.Title
		}

	default:
		return body, false
	}

	return body, true
}

// fetchMedia downloads the attachment; on retry exhaustion the message keeps
// the placeholder body instead of being dropped.
func (s *Service) fetchMedia(ctx context.Context, tenantID, mediaID, mimeType, filename, messageID string, body *inboundBody, placeholder string) {
	if mediaID == "" || s.mediaDL == nil {
		return
	}
	stored, err := s.mediaDL.Download(ctx, tenantID, mediaID, mimeType, filename, messageID)
	if err != nil {
		body.content = placeholder
		return
	}
	body.mediaURL = stored.URL
	body.fileName = stored.Filename
}

// upsertContactChat resolves the sender to a Contact and Chat, creating both
// lazily on first inbound message. The lookup-or-create is race-safe per
// (tenant, phone number): the unique index rejects the second concurrent
// insert and the loser re-reads the winner's row.
func (s *Service) upsertContactChat(ctx context.Context, tenantID string, parts PhoneParts, profileName, lastMessage string, inbound bool) (*models.Contact, *models.Chat, error) {
	var contact models.Contact
	var chatRow models.Chat
	now := time.Now().In(s.location)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("tenant_id = ? AND phone_number = ?", tenantID, parts.Number).
			First(&contact).Error
		switch {
		case err == nil:
			if err := tx.Model(&contact).Update("last_contacted", now).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			first, last := splitName(profileName)
			contact = models.Contact{
				ID:            uuid.NewString(),
				TenantID:      tenantID,
				PhoneNumber:   parts.Number,
				CountryCode:   parts.CountryCode,
				FirstName:     first,
				LastName:      last,
				Notes:         "Auto-created from WhatsApp message",
				Tags:          "[]",
				LastContacted: &now,
			}
			if err := tx.Create(&contact).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					// Lost the race; use the row the other writer created.
					return tx.Where("tenant_id = ? AND phone_number = ?", tenantID, parts.Number).
						First(&contact).Error
				}
				return err
			}
		default:
			return err
		}

		err = tx.Where("id = ? AND tenant_id = ?", contact.ID, tenantID).First(&chatRow).Error
		switch {
		case err == nil:
			updates := map[string]any{
				"last_message":      lastMessage,
				"last_message_time": now,
			}
			if inbound {
				// The user-side timestamp anchors the 24-hour service window.
				updates["user_last_message_time"] = now
				if !chatRow.IsActive {
					updates["un_read"] = true
					chatRow.UnRead = true
				}
			}
			chatRow.LastMessage = lastMessage
			chatRow.LastMessageTime = &now
			return tx.Model(&models.Chat{}).Where("id = ?", chatRow.ID).Updates(updates).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			chatRow = models.Chat{
				ID:              contact.ID,
				TenantID:        tenantID,
				ContactID:       contact.ID,
				Name:            contactName(&contact, parts.Number),
				PhoneNumber:     parts.FullNumber(),
				LastMessage:     lastMessage,
				LastMessageTime: &now,
			}
			if inbound {
				chatRow.UserLastMessageTime = &now
				chatRow.UnRead = true
			} else {
				// Operator opened the conversation; it starts focused.
				chatRow.IsActive = true
			}
			return tx.Create(&chatRow).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to upsert contact/chat: %w", err)
	}
	return &contact, &chatRow, nil
}

// UpdatePreference applies a stop/resume opt signal to the contact.
func (s *Service) UpdatePreference(ctx context.Context, tenant *models.Tenant, value *wire.ChangeValue) error {
	if len(value.UserPreferences) == 0 {
		return nil
	}
	pref := value.UserPreferences[0]

	var optStatus int
	switch strings.ToLower(pref.Value) {
	case "stop":
		optStatus = models.OptOut
	case "resume":
		optStatus = models.OptIn
	default:
		return nil
	}

	parts := ExtractPhone(pref.WaID)
	at := s.messageTime(pref.Timestamp)

	res := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("tenant_id = ? AND country_code = ? AND phone_number = ?",
			tenant.ID, parts.CountryCode, parts.Number).
		Updates(map[string]any{
			"opt_status":            optStatus,
			"opt_status_updated_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update contact preference: %w", res.Error)
	}
	return nil
}

// SendRequest is an operator-initiated outbound message.
type SendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	MediaURL    string `json:"mediaUrl"`
	FileName    string `json:"fileName"`
	Caption     string `json:"caption"`
}

// SendOperatorMessage dispatches an outbound message for a tenant operator,
// ensures the contact and chat exist, and appends the sent message to the log.
func (s *Service) SendOperatorMessage(ctx context.Context, tenantID string, req SendRequest) (*models.Message, error) {
	if req.PhoneNumber == "" || (req.Message == "" && req.MediaURL == "") {
		return nil, fmt.Errorf("phone number and message or media are required")
	}

	tenant, err := s.tenants.ByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	formatted := strings.NewReplacer("+", "", " ", "", "-", "").Replace(req.PhoneNumber)
	messageType := orDefault(req.MessageType, "text")

	var content, waMessageID string
	switch messageType {
	case "text":
		content = req.Message
		waMessageID, err = s.sender.SendText(ctx, tenant, formatted, req.Message)
	case "image":
		content = orDefault(req.Caption, "📷 Image")
		waMessageID, err = s.sender.SendMedia(ctx, tenant, formatted, "image", req.MediaURL, req.Caption, "")
	case "document":
		content = orDefault(req.Caption, "📄 "+orDefault(req.FileName, "Document"))
		waMessageID, err = s.sender.SendMedia(ctx, tenant, formatted, "document", req.MediaURL, req.Caption, orDefault(req.FileName, "document.pdf"))
	default:
		return nil, fmt.Errorf("unsupported message type %q", messageType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if err := s.stats.Increment(ctx, tenantID, models.StatusSent); err != nil {
		s.logger.Error("Daily stats update failed", zap.Error(err))
	}

	parts := ExtractPhone(req.PhoneNumber)
	_, chatRow, err := s.upsertContactChat(ctx, tenantID, parts, "", content, false)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(s.location)
	record := models.Message{
		ChatID:            chatRow.ID,
		TenantID:          tenantID,
		Content:           content,
		Timestamp:         now,
		IsFromMe:          true,
		SenderName:        "Admin",
		Status:            models.StatusSent,
		WhatsAppMessageID: waMessageID,
		MessageType:       messageType,
		MediaURL:          req.MediaURL,
		FileName:          req.FileName,
		Caption:           req.Caption,
		SentAt:            &now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to store outbound message: %w", err)
	}

	s.notifier.Publish(tenantID, NewMessageEvent{
		Type:    "new_message",
		ChatID:  chatRow.ID,
		Message: &record,
	})
	return &record, nil
}

// Chats lists the tenant's conversations, most recently active first.
func (s *Service) Chats(ctx context.Context, tenantID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("last_message_time DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// Messages lists a chat's log in order.
func (s *Service) Messages(ctx context.Context, tenantID, chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND chat_id = ?", tenantID, chatID).
		Order("timestamp ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (s *Service) messageTime(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(secs, 0).In(s.location)
	}
	return time.Now().In(s.location)
}

func contactName(c *models.Contact, fallback string) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return fallback
	}
	return name
}

func splitName(profileName string) (string, string) {
	profileName = strings.TrimSpace(profileName)
	if profileName == "" {
		return "", ""
	}
	parts := strings.Fields(profileName)
	return parts[0], strings.Join(parts[1:], " ")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
