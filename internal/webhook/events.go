package webhook

import (
	wire "whatsapp-platform/pkg/models"
)

// EventKind is the closed set of webhook event classes the dispatcher routes.
// Anything outside the set is EventUnrecognized and is only audited.
type EventKind string

const (
	EventUnrecognized     EventKind = "unrecognized"
	EventTemplateStatus   EventKind = "template_status"
	EventTemplateCategory EventKind = "template_category"
	EventInboundMessage   EventKind = "inbound_message"
	EventDeliveryReceipt  EventKind = "delivery_receipt"
	EventUserPreference   EventKind = "user_preference"
)

// classify maps a change's field tag and value shape onto an EventKind. The
// messages field carries both inbound messages and delivery receipts, so it
// is disambiguated by which array is populated; receipts win when both appear.
func classify(field string, value *wire.ChangeValue) EventKind {
	switch field {
	case "message_template_status_update":
		return EventTemplateStatus
	case "template_category_update":
		return EventTemplateCategory
	case "user_preferences":
		return EventUserPreference
	case "messages":
		if len(value.Statuses) > 0 {
			return EventDeliveryReceipt
		}
		if len(value.Messages) > 0 {
			return EventInboundMessage
		}
		if len(value.UserPreferences) > 0 {
			return EventUserPreference
		}
		return EventUnrecognized
	default:
		return EventUnrecognized
	}
}
