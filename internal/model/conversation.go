package model

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is the unit of a running dialogue, unique per
// (contact_id, channel). Channel is stored lowercase so the uniqueness
// comparison is case-insensitive. A soft-deleted conversation is
// resurrected when a new inbound message arrives.
type Conversation struct {
	ID             string         `json:"id" gorm:"primaryKey;type:text"`
	ContactID      string         `json:"contact_id" gorm:"column:contact_id;type:text" validate:"required"`
	Channel        Channel        `json:"channel" gorm:"type:text" validate:"required"`
	WorkspaceID    string         `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	AssignedUserID string         `json:"assigned_user_id,omitempty" gorm:"column:assigned_user_id;type:text"`
	UnreadCount    int32          `json:"unread_count,omitempty" gorm:"column:unread_count"`
	LastMessageAt  *time.Time     `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	LastInboundAt  *time.Time     `json:"last_inbound_at,omitempty" gorm:"column:last_inbound_at"`
	LastOutboundAt *time.Time     `json:"last_outbound_at,omitempty" gorm:"column:last_outbound_at"`
	IsDeleted      bool           `json:"is_deleted,omitempty" gorm:"column:is_deleted;default:false"`
	CreatedAt      time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata   datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for the Conversation model.
func (Conversation) TableName() string {
	return "conversations"
}

// HumanAssigned reports whether a human agent owns this conversation,
// which suppresses automated replies.
func (c *Conversation) HumanAssigned() bool {
	return c.AssignedUserID != ""
}

// WithinWindow reports whether the last inbound message is recent enough
// that a free-form (non-template) send is permitted by the provider.
func (c *Conversation) WithinWindow(now time.Time, window time.Duration) bool {
	if c.LastInboundAt == nil {
		return false
	}
	return now.Sub(*c.LastInboundAt) < window
}
