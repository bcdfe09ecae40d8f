package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	MessageDirectionInbound  = "IN"
	MessageDirectionOutbound = "OUT"
)

// Message is one inbound or outbound unit of communication. For inbound
// messages the (conversation_id, provider_message_id) pair is unique: that
// constraint, not application logic, is the source of truth that breaks
// the tie between racing duplicate webhook deliveries.
type Message struct {
	ID                int64          `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	MessageID         string         `json:"id" gorm:"column:message_id;type:text"`
	ConversationID    string         `json:"conversation_id" gorm:"column:conversation_id;index;type:text" validate:"required"`
	ContactID         string         `json:"contact_id,omitempty" gorm:"column:contact_id;index;type:text"`
	Channel           Channel        `json:"channel,omitempty" gorm:"type:text"`
	Direction         string         `json:"direction" gorm:"type:text" validate:"required,oneof=IN OUT"`
	ProviderMessageID string         `json:"provider_message_id,omitempty" gorm:"column:provider_message_id;type:text"`
	Text              string         `json:"text,omitempty" gorm:"column:message_text"`
	Attachments       datatypes.JSON `json:"attachments,omitempty" gorm:"type:jsonb;column:attachments"`
	DeliveryStatus    string         `json:"delivery_status,omitempty" gorm:"column:delivery_status"`
	WorkspaceID       string         `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	SentAt            time.Time      `json:"sent_at,omitempty" gorm:"column:sent_at"`
	CreatedAt         time.Time      `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
	LastMetadata      datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}

// MessageUpdatableFields returns the only columns that may change after a
// message row exists. Direction is immutable; only delivery status events
// are attached.
func MessageUpdatableFields() []string {
	return []string{
		"delivery_status", "last_metadata", "updated_at",
	}
}

// InboundDedup records that a (channel, provider_message_id) pair has been
// admitted. A second delivery of the same webhook event observes the unique
// constraint on this table and produces zero new side effects.
type InboundDedup struct {
	ID                int64     `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	Channel           Channel   `json:"channel" gorm:"type:text" validate:"required"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"column:provider_message_id;type:text" validate:"required"`
	WorkspaceID       string    `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	CreatedAt         time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the InboundDedup model.
func (InboundDedup) TableName() string {
	return "inbound_dedup"
}
