package model

import (
	"time"
)

// Reply types recognized by the dedupe-key derivation. Flow replies ask the
// next question of a scripted flow and must not repeat the same question
// twice in a day; direct replies answer one specific inbound message and
// are deduped per trigger regardless of day. The duality is a business
// rule, not an artifact, so both branches stay explicit.
const (
	ReplyTypeFlow   = "flow"
	ReplyTypeDirect = "direct"
)

// OutboundMessageLog is the idempotency ledger: one row per computed
// outbound dedupe key. A send is performed only if no prior row exists for
// the key; the row is written in the same transaction that commits to the
// provider call, so a concurrent second attempt observes it and aborts as
// a duplicate. Its presence means "a send was attempted and is in flight
// or succeeded", never "attempted and silently failed".
type OutboundMessageLog struct {
	ID                int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	DedupeKey         string    `json:"dedupe_key" gorm:"column:dedupe_key;type:text" validate:"required"`
	ConversationID    string    `json:"conversation_id" gorm:"column:conversation_id;index;type:text"`
	ReplyType         string    `json:"reply_type,omitempty" gorm:"column:reply_type;type:text"`
	QuestionKey       string    `json:"question_key,omitempty" gorm:"column:question_key;type:text"`
	TriggerMessageID  string    `json:"trigger_message_id,omitempty" gorm:"column:trigger_message_id;type:text"`
	ProviderMessageID string    `json:"provider_message_id,omitempty" gorm:"column:provider_message_id;type:text"`
	WorkspaceID       string    `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	CreatedAt         time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the OutboundMessageLog model.
func (OutboundMessageLog) TableName() string {
	return "outbound_message_log"
}

// FollowupTask is a human-facing task created when a job fails permanently
// (e.g. an unnormalizable phone number) so the case is not silently lost.
type FollowupTask struct {
	ID             int64      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID string     `json:"conversation_id,omitempty" gorm:"column:conversation_id;index;type:text"`
	ContactID      string     `json:"contact_id,omitempty" gorm:"column:contact_id;type:text"`
	JobID          int64      `json:"job_id,omitempty" gorm:"column:job_id"`
	Reason         string     `json:"reason" gorm:"type:text" validate:"required"`
	WorkspaceID    string     `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	Resolved       bool       `json:"resolved" gorm:"index;default:false"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the FollowupTask model.
func (FollowupTask) TableName() string {
	return "followup_tasks"
}
