package model

import (
	"time"

	"gorm.io/datatypes"
)

// Contact represents a person reachable over one or more channels.
// A contact is identified primarily by its normalized E.164 phone number;
// for Instagram and Facebook the provider user id carries the identity and
// the phone column may be empty.
type Contact struct {
	ID             string         `json:"id" gorm:"primaryKey;type:text"`
	Phone          string         `json:"phone,omitempty" gorm:"type:text;index"`
	ProviderUserID string         `json:"provider_user_id,omitempty" gorm:"column:provider_user_id;type:text"`
	Channel        Channel        `json:"channel,omitempty" gorm:"type:text"` // channel the provider user id belongs to
	Name           string         `json:"name,omitempty" gorm:"type:text"`
	WorkspaceID    string         `json:"workspace_id,omitempty" gorm:"column:workspace_id;index"`
	MergedIntoID   string         `json:"merged_into_id,omitempty" gorm:"column:merged_into_id;type:text"`
	CreatedAt      time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata   datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for the Contact model.
func (Contact) TableName() string {
	return "contacts"
}

// UnknownContactName is used when the provider supplies no profile name.
const UnknownContactName = "Unknown"

// Lead is a minimal sales lead attached to a contact. Lead Ads events
// create one; the outbound sender carries its id for reply routing.
type Lead struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	ContactID   string    `json:"contact_id" gorm:"column:contact_id;index;type:text" validate:"required"`
	Source      string    `json:"source,omitempty" gorm:"type:text"`
	Status      string    `json:"status,omitempty" gorm:"type:text;default:NEW"`
	WorkspaceID string    `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	CreatedAt   time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Lead model.
func (Lead) TableName() string {
	return "leads"
}
