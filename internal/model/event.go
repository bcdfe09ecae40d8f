package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// EventType represents the subject a webhook envelope is published under.
type EventType string

// Webhook ingest subjects, one per channel.
const (
	V1WebhookWhatsApp  EventType = "v1.webhook.whatsapp"
	V1WebhookInstagram EventType = "v1.webhook.instagram"
	V1WebhookFacebook  EventType = "v1.webhook.facebook"
	V1WebhookLeadAds   EventType = "v1.webhook.leadads"
)

// WebhookSubjectFor returns the ingest subject for a channel.
func WebhookSubjectFor(channel Channel) EventType {
	switch channel {
	case ChannelWhatsApp:
		return V1WebhookWhatsApp
	case ChannelInstagram:
		return V1WebhookInstagram
	case ChannelFacebook:
		return V1WebhookFacebook
	case ChannelLeadAds:
		return V1WebhookLeadAds
	}
	return ""
}

// MapToBaseEventType attempts to map an input subject (potentially suffixed
// with a workspace identifier) back to a known base EventType constant.
// It returns the mapped EventType and true if successful.
func MapToBaseEventType(input string) (EventType, bool) {
	switch EventType(input) {
	case V1WebhookWhatsApp, V1WebhookInstagram, V1WebhookFacebook, V1WebhookLeadAds:
		return EventType(input), true
	}

	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	base := input[:lastDotIndex]
	switch EventType(base) {
	case V1WebhookWhatsApp, V1WebhookInstagram, V1WebhookFacebook, V1WebhookLeadAds:
		return EventType(base), true
	default:
		return "", false
	}
}

// ChannelOf returns the channel a webhook event type belongs to.
func (e EventType) ChannelOf() Channel {
	switch e {
	case V1WebhookWhatsApp:
		return ChannelWhatsApp
	case V1WebhookInstagram:
		return ChannelInstagram
	case V1WebhookFacebook:
		return ChannelFacebook
	case V1WebhookLeadAds:
		return ChannelLeadAds
	}
	return ""
}

// MessageMetadata carries JetStream delivery metadata alongside an envelope.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	MessageSubject   string
	WorkspaceID      string
}

// WebhookEnvelope is the raw webhook body as accepted by the HTTP surface
// and handed off to the ingest consumer. The payload is kept verbatim so
// the normalizer is the single place that interprets provider shapes.
type WebhookEnvelope struct {
	Channel    Channel        `json:"channel" validate:"required"`
	ReceivedAt time.Time      `json:"received_at"`
	Payload    datatypes.JSON `json:"payload" validate:"required"`
}

// Attachment is the canonical representation of inbound media.
type Attachment struct {
	MediaURL        string `json:"media_url,omitempty"`
	ProviderMediaID string `json:"provider_media_id,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
}

// CanonicalEvent is the normalized, channel-agnostic representation of one
// inbound webhook occurrence.
type CanonicalEvent struct {
	Channel           Channel      `json:"channel" validate:"required"`
	SenderID          string       `json:"sender_id" validate:"required"`
	Phone             string       `json:"phone,omitempty"`
	ProfileName       string       `json:"profile_name,omitempty"`
	ProviderMessageID string       `json:"provider_message_id" validate:"required"`
	Text              string       `json:"text,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
	// SyntheticID marks events whose provider message id had to be
	// generated locally. Idempotency is defeated for these events.
	SyntheticID bool `json:"synthetic_id,omitempty"`
}

// HasContent reports whether the event carries anything a reply could be
// generated from.
func (e CanonicalEvent) HasContent() bool {
	return strings.TrimSpace(e.Text) != "" || len(e.Attachments) > 0
}
