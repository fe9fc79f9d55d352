package models

import "encoding/json"

// WebhookPayload represents the incoming JSON payload from WhatsApp
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

// ChangeValue is the union of the value shapes Meta delivers across event
// kinds. Only the fields matching the change's field tag are populated.
type ChangeValue struct {
	MessagingProduct string `json:"messaging_product,omitempty"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata,omitempty"`

	Contacts []WebhookContact  `json:"contacts,omitempty"`
	Messages []IncomingMessage `json:"messages,omitempty"`
	Statuses []StatusUpdate    `json:"statuses,omitempty"`

	// message_template_status_update / template_category_update
	MessageTemplateID       json.Number     `json:"message_template_id,omitempty"`
	MessageTemplateName     string          `json:"message_template_name,omitempty"`
	MessageTemplateCategory string          `json:"message_template_category,omitempty"`
	Event                   string          `json:"event,omitempty"`
	NewCategory             string          `json:"new_category,omitempty"`
	CorrectCategory         string          `json:"correct_category,omitempty"`
	DisableInfo             json.RawMessage `json:"disable_info,omitempty"`
	OtherInfo               json.RawMessage `json:"other_info,omitempty"`
	RejectionInfo           json.RawMessage `json:"rejection_info,omitempty"`

	// user_preferences
	UserPreferences []UserPreference `json:"user_preferences,omitempty"`
}

// WebhookContact carries the sender's profile hint on inbound messages.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type IncomingMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *MediaMessage       `json:"image,omitempty"`
	Video       *MediaMessage       `json:"video,omitempty"`
	Audio       *MediaMessage       `json:"audio,omitempty"`
	Document    *MediaMessage       `json:"document,omitempty"`
	Button      *ButtonMessage      `json:"button,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Context     json.RawMessage     `json:"context,omitempty"`
}

// MediaMessage represents a media attachment in a WhatsApp message
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

// ButtonMessage is a quick-reply button press.
type ButtonMessage struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// InteractiveMessage represents an interactive message response (buttons, lists)
type InteractiveMessage struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
	ListReply   *ListReply   `json:"list_reply,omitempty"`
}

// ButtonReply represents a button click response
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListReply represents a list selection response
type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// StatusUpdate is a delivery receipt for a previously sent message.
type StatusUpdate struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Pricing     *Pricing      `json:"pricing,omitempty"`
	Errors      []StatusError `json:"errors,omitempty"`
}

// Pricing tells whether the conversation this message opened is billable.
type Pricing struct {
	Billable bool   `json:"billable"`
	Category string `json:"category"`
}

type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	ErrorData *struct {
		Details string `json:"details"`
	} `json:"error_data,omitempty"`
}

// UserPreference is a marketing opt-in/opt-out signal.
type UserPreference struct {
	WaID      string `json:"wa_id"`
	Detail    string `json:"detail"`
	Category  string `json:"category"`
	Value     string `json:"value"` // "stop" or "resume"
	Timestamp string `json:"timestamp"`
}
