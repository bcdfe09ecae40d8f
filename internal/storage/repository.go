package storage

import (
	"context"
	"time"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Save(ctx context.Context, contact *model.Contact) error
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (*model.Contact, error)
	FindByProviderUserID(ctx context.Context, channel model.Channel, providerUserID string) (*model.Contact, error)
	Merge(ctx context.Context, canonicalID, duplicateID string) error
}

// LeadRepo defines lead storage operations
type LeadRepo interface {
	Save(ctx context.Context, lead *model.Lead) error
	FindLatestByContactID(ctx context.Context, contactID string) (*model.Lead, error)
}

// ConversationRepo defines conversation storage operations
type ConversationRepo interface {
	FindByContactAndChannel(ctx context.Context, contactID string, channel model.Channel) (*model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	Save(ctx context.Context, conversation *model.Conversation) error
	Resurrect(ctx context.Context, id string) error
	RecordInbound(ctx context.Context, id string, at time.Time) error
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	// InsertInbound inserts an inbound message and its dedup record in one
	// transaction. Returns apperrors.ErrDuplicate when the unique
	// (conversation_id, provider_message_id) constraint fires.
	InsertInbound(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id int64) (*model.Message, error)
	UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error
}

// JobRepo defines outbound job queue operations
type JobRepo interface {
	// Enqueue inserts one queued job per triggering inbound message.
	// Returns apperrors.ErrDuplicate if a job for the trigger already exists.
	Enqueue(ctx context.Context, job *model.OutboundJob) error
	// ClaimDue atomically claims up to max due queued jobs using
	// FOR UPDATE SKIP LOCKED so concurrent runners partition the queue
	// without blocking. Claimed rows are returned already marked running
	// with attempts incremented and started_at set.
	ClaimDue(ctx context.Context, now time.Time, max int) ([]model.OutboundJob, error)
	MarkDone(ctx context.Context, jobID int64, at time.Time) error
	Requeue(ctx context.Context, jobID int64, runAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, jobID int64, errMsg string) error
	CountByStatus(ctx context.Context) (*model.JobStatusCounts, error)
	FindStuck(ctx context.Context, olderThan time.Time) ([]model.OutboundJob, error)
}

// OutboundLogRepo defines idempotency-ledger operations. The ledger insert
// and the surrounding send must share one transaction; WithinTx exposes a
// transactional scope the sender drives.
type OutboundLogRepo interface {
	WithinTx(ctx context.Context, fn func(txRepo OutboundLogTxRepo) error) error
	FindByKey(ctx context.Context, dedupeKey string) (*model.OutboundMessageLog, error)
}

// OutboundLogTxRepo is the ledger surface inside one transaction.
type OutboundLogTxRepo interface {
	Insert(log *model.OutboundMessageLog) error
	SetProviderMessageID(dedupeKey, providerMessageID string) error
	InsertOutboundMessage(message *model.Message) error
	RecordConversationOutbound(conversationID string, at time.Time) error
}

// TaskRepo defines follow-up task operations
type TaskRepo interface {
	Create(ctx context.Context, task *model.FollowupTask) error
	FindUnresolved(ctx context.Context, limit int) ([]model.FollowupTask, error)
}
