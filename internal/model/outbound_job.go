package model

import (
	"time"
)

// Outbound job lifecycle states. queued → running → {done | queued(retry) | failed}.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// DefaultMaxAttempts bounds retries for one outbound job.
const DefaultMaxAttempts = 3

// OutboundJob is a durable work item: "attempt to compute and send a reply
// to this inbound trigger". At most one job per triggering inbound message
// ever reaches done with a sent reply, enforced jointly by row-locked
// claiming and by the outbound ledger's dedupe key.
type OutboundJob struct {
	ID                       int64      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID           string     `json:"conversation_id" gorm:"column:conversation_id;index;type:text" validate:"required"`
	InboundMessageID         int64      `json:"inbound_message_id" gorm:"column:inbound_message_id" validate:"required"`
	InboundProviderMessageID string     `json:"inbound_provider_message_id" gorm:"column:inbound_provider_message_id;type:text"`
	WorkspaceID              string     `json:"workspace_id,omitempty" gorm:"column:workspace_id"`
	Status                   string     `json:"status" gorm:"type:text;index:idx_outbound_jobs_status_run_at,priority:1" validate:"required,oneof=queued running done failed"`
	Attempts                 int        `json:"attempts" gorm:"column:attempts"`
	MaxAttempts              int        `json:"max_attempts" gorm:"column:max_attempts"`
	RunAt                    time.Time  `json:"run_at" gorm:"column:run_at;index:idx_outbound_jobs_status_run_at,priority:2"`
	StartedAt                *time.Time `json:"started_at,omitempty" gorm:"column:started_at"`
	CompletedAt              *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
	Error                    string     `json:"error,omitempty" gorm:"column:error;type:text"`
	CreatedAt                time.Time  `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt                time.Time  `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the OutboundJob model.
func (OutboundJob) TableName() string {
	return "outbound_jobs"
}

// Terminal reports whether the job has reached a terminal state.
func (j *OutboundJob) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}

// NextRunAt computes the exponential-backoff schedule for a retry:
// now + 2^attempts seconds (2s, 4s, 8s, ...).
func NextRunAt(now time.Time, attempts int) time.Time {
	if attempts < 1 {
		attempts = 1
	}
	return now.Add(time.Duration(1<<uint(attempts)) * time.Second)
}

// JobStatusCounts summarizes the queue for the operator debug surface.
type JobStatusCounts struct {
	Queued  int64 `json:"queued"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}
