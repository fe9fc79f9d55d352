package models

import (
	"time"
)

// MessageStatus is the delivery lifecycle of a single message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Priority orders statuses for the monotonic non-regression rule. failed
// shares the lowest rank with sent so it can only replace a non-terminal
// status. Unknown statuses rank lowest.
func (s MessageStatus) Priority() int {
	switch s {
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 1
	}
}

// BroadcastStatus is the coarse campaign state.
type BroadcastStatus string

const (
	BroadcastDraft   BroadcastStatus = "Draft"
	BroadcastSending BroadcastStatus = "Sending"
	BroadcastSent    BroadcastStatus = "Sent"
	BroadcastFailed  BroadcastStatus = "Failed"
)

// Audience types for a broadcast.
const (
	AudiencePhoneList = 1
	AudienceContacts  = 2
)

// Contact opt-in states set by user_preferences webhook events.
const (
	OptOut = 0
	OptIn  = 1
)

// Tenant is one business account. Every other entity is partitioned by it.
type Tenant struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	WabaID        string    `gorm:"type:varchar(64)" json:"waba_id"`
	PhoneNumberID string    `gorm:"type:varchar(64);uniqueIndex" json:"phone_number_id"`
	PhoneNumber   string    `gorm:"type:varchar(32)" json:"phone_number"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// Contact is one person per (tenant, national phone number). Created lazily
// on the first inbound message. The composite unique index backs the
// retry-on-conflict upsert.
type Contact struct {
	ID          string `gorm:"primaryKey" json:"id"`
	TenantID    string `gorm:"index:idx_contacts_tenant_phone,unique;not null" json:"tenant_id"`
	PhoneNumber string `gorm:"index:idx_contacts_tenant_phone,unique;type:varchar(32)" json:"phone_number"`
	CountryCode string `gorm:"type:varchar(8)" json:"country_code"`
	FirstName   string `gorm:"type:varchar(255)" json:"f_name"`
	LastName    string `gorm:"type:varchar(255)" json:"l_name"`
	Notes       string `gorm:"type:text" json:"notes"`
	Tags        string `gorm:"type:text" json:"tags"` // JSON array

	// OptStatus: 0 stop, 1 resume, nil unknown.
	OptStatus          *int       `json:"status"`
	OptStatusUpdatedAt *time.Time `json:"status_updated_at"`

	LastContacted *time.Time `json:"last_contacted"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Chat is the conversation thread for a contact. Its ID equals the contact ID.
type Chat struct {
	ID          string `gorm:"primaryKey" json:"id"`
	TenantID    string `gorm:"index;not null" json:"tenant_id"`
	ContactID   string `gorm:"index" json:"contact_id"`
	Name        string `gorm:"type:varchar(255)" json:"name"`
	PhoneNumber string `gorm:"type:varchar(32)" json:"phone_number"`

	LastMessage         string     `gorm:"type:text" json:"last_message"`
	LastMessageTime     *time.Time `json:"last_message_time"`
	UserLastMessageTime *time.Time `json:"user_last_message_time"`

	// IsActive means an operator currently has the chat open; inbound
	// messages then do not raise the unread flag.
	IsActive  bool      `gorm:"default:false" json:"is_active"`
	UnRead    bool      `gorm:"default:false" json:"un_read"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Chat) TableName() string {
	return "chats"
}

// Message is an append-only chat log entry.
type Message struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ChatID   string `gorm:"index;not null" json:"chat_id"`
	TenantID string `gorm:"index;not null" json:"tenant_id"`

	Content    string        `gorm:"type:text" json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	IsFromMe   bool          `json:"is_from_me"`
	SenderName string        `gorm:"type:varchar(255)" json:"sender_name"`
	Status     MessageStatus `gorm:"type:varchar(20)" json:"status"`

	// WhatsAppMessageID correlates this row with later delivery receipts.
	WhatsAppMessageID string `gorm:"column:whatsapp_message_id;index;type:varchar(255)" json:"whatsapp_message_id"`

	MessageType string `gorm:"type:varchar(50)" json:"message_type"`
	MediaURL    string `gorm:"type:text" json:"media_url"`
	FileName    string `gorm:"type:varchar(255)" json:"file_name"`
	MimeType    string `gorm:"type:varchar(100)" json:"mime_type"`
	Caption     string `gorm:"type:text" json:"caption"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
	FailedAt    *time.Time `json:"failed_at"`

	ErrorCode        int       `json:"error_code"`
	ErrorDescription string    `gorm:"type:text" json:"error_description"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Template mirrors the provider-side message template. Status, category and
// rejection reason are kept current by template webhook events.
type Template struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	TenantID   string    `gorm:"index;not null" json:"tenant_id"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Language   string    `gorm:"type:varchar(50)" json:"language"`
	Category   string    `gorm:"type:varchar(100)" json:"category"`
	Status     string    `gorm:"type:varchar(50)" json:"status"`
	Components string    `gorm:"type:text" json:"components"` // JSON components
	Reason     string    `gorm:"type:text" json:"reason"`     // JSON rejection/disable info
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

// Broadcast is one bulk-send campaign with aggregate delivery counters.
type Broadcast struct {
	ID           string `gorm:"primaryKey" json:"id"`
	TenantID     string `gorm:"index;not null" json:"tenant_id"`
	TemplateID   string `gorm:"type:varchar(255)" json:"template_id"`
	AdminName    string `gorm:"type:varchar(255)" json:"admin_name"`
	AttachmentID string `gorm:"type:varchar(255)" json:"attachment_id"`
	AudienceType int    `json:"audience_type"`

	Sent      int `gorm:"default:0" json:"sent"`
	Delivered int `gorm:"default:0" json:"delivered"`
	Read      int `gorm:"default:0" json:"read"`
	Failed    int `gorm:"default:0" json:"failed"`

	Status    BroadcastStatus `gorm:"type:varchar(20)" json:"status"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Broadcast) TableName() string {
	return "broadcasts"
}

// BroadcastMessage is one recipient within a broadcast. MobileNo and
// ContactID are indexed so an inbound reply resolves its pending template
// message with one lookup instead of scanning recent broadcasts.
type BroadcastMessage struct {
	ID          string `gorm:"primaryKey" json:"id"`
	BroadcastID string `gorm:"index;not null" json:"broadcast_id"`
	TenantID    string `gorm:"index;not null" json:"tenant_id"`
	MobileNo    string `gorm:"index:idx_bmsg_tenant_mobile;type:varchar(32)" json:"mobile_no"`
	ContactID   string `gorm:"index;type:varchar(64)" json:"contact_id"`

	Payload           string        `gorm:"type:text" json:"payload"` // JSON send payload
	Status            MessageStatus `gorm:"type:varchar(20)" json:"status"`
	WhatsAppMessageID string        `gorm:"column:whatsapp_message_id;index;type:varchar(255)" json:"whatsapp_message_id"`

	// SentConfirmed marks that the provider's own sent receipt was applied.
	// The dispatch worker sets status sent optimistically before any receipt
	// arrives, so receipt accounting cannot key on status alone.
	SentConfirmed bool `gorm:"default:false" json:"sent_confirmed"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
	FailedAt    *time.Time `json:"failed_at"`

	Cost        float64   `gorm:"default:0" json:"cost"`
	AddedToChat bool      `gorm:"default:false" json:"added_to_chat"`
	ErrorCode   string    `gorm:"type:varchar(255)" json:"error_code"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BroadcastMessage) TableName() string {
	return "broadcast_messages"
}

// Wallet holds the prepaid balance for a tenant. Balance may go negative;
// overdraft policy lives outside this core.
type Wallet struct {
	TenantID  string    `gorm:"primaryKey" json:"tenant_id"`
	Balance   float64   `gorm:"default:0" json:"balance"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Ledger entry kinds.
const (
	EntryDebit  = "debit"
	EntryCredit = "credit"
)

// WalletEntry is an immutable audit row for a single balance mutation. The
// partial unique index caps credits at one per broadcast message even when
// two receipt handlers race past the read-before-insert guard.
type WalletEntry struct {
	ID                 string    `gorm:"primaryKey" json:"id"`
	TenantID           string    `gorm:"index;not null" json:"tenant_id"`
	BroadcastID        string    `gorm:"index" json:"broadcast_id"`
	BroadcastMessageID string    `gorm:"type:varchar(64);index:idx_entries_credit_once,unique,where:broadcast_message_id <> ''" json:"broadcast_message_id"`
	Kind               string    `gorm:"type:varchar(10)" json:"kind"`
	Amount             float64   `json:"amount"`
	MessageCount       int       `json:"message_count"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WalletEntry) TableName() string {
	return "wallet_entries"
}

// DailyStat accumulates per-tenant per-day counters. Counters only ever
// increase.
type DailyStat struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"index:idx_daily_tenant_date,unique;not null" json:"tenant_id"`
	Date     string `gorm:"index:idx_daily_tenant_date,unique;type:varchar(10)" json:"date"` // YYYY-MM-DD

	TotalSent      int `gorm:"default:0" json:"total_sent"`
	TotalDelivered int `gorm:"default:0" json:"total_delivered"`
	TotalRead      int `gorm:"default:0" json:"total_read"`
	TotalFailed    int `gorm:"default:0" json:"total_failed"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailyStat) TableName() string {
	return "daily_stats"
}

// WebhookLog is the audit trail: one row per inbound change, valid or not.
type WebhookLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;type:varchar(64)" json:"tenant_id"`
	Kind      string    `gorm:"type:varchar(50)" json:"kind"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Status    string    `gorm:"type:varchar(10)" json:"status"` // SUCCESS or ERROR
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}
