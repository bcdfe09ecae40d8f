package storage

import (
	"context"
	"time"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

// Save saves a contact
func (a *ContactRepoAdapter) Save(ctx context.Context, contact *model.Contact) error {
	return a.postgres.SaveContact(ctx, contact)
}

// FindByID finds a contact by ID
func (a *ContactRepoAdapter) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	return a.postgres.FindContactByID(ctx, id)
}

// FindByPhone finds a contact by normalized phone
func (a *ContactRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return a.postgres.FindContactByPhone(ctx, phone)
}

// FindByProviderUserID finds a contact by channel-scoped provider user ID
func (a *ContactRepoAdapter) FindByProviderUserID(ctx context.Context, channel model.Channel, providerUserID string) (*model.Contact, error) {
	return a.postgres.FindContactByProviderUserID(ctx, channel, providerUserID)
}

// Merge merges a duplicate contact into a canonical one
func (a *ContactRepoAdapter) Merge(ctx context.Context, canonicalID, duplicateID string) error {
	return a.postgres.MergeContacts(ctx, canonicalID, duplicateID)
}

// LeadRepoAdapter adapts the PostgresRepo to the LeadRepo interface
type LeadRepoAdapter struct {
	postgres *PostgresRepo
}

// NewLeadRepoAdapter creates a new lead repository adapter
func NewLeadRepoAdapter(postgres *PostgresRepo) LeadRepo {
	return &LeadRepoAdapter{postgres: postgres}
}

// Save saves a lead
func (a *LeadRepoAdapter) Save(ctx context.Context, lead *model.Lead) error {
	return a.postgres.SaveLead(ctx, lead)
}

// FindLatestByContactID finds the most recent lead for a contact
func (a *LeadRepoAdapter) FindLatestByContactID(ctx context.Context, contactID string) (*model.Lead, error) {
	return a.postgres.FindLatestLeadByContactID(ctx, contactID)
}

// ConversationRepoAdapter adapts the PostgresRepo to the ConversationRepo interface
type ConversationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(postgres *PostgresRepo) ConversationRepo {
	return &ConversationRepoAdapter{postgres: postgres}
}

// FindByContactAndChannel finds the single conversation for a contact+channel pair
func (a *ConversationRepoAdapter) FindByContactAndChannel(ctx context.Context, contactID string, channel model.Channel) (*model.Conversation, error) {
	return a.postgres.FindConversationByContactAndChannel(ctx, contactID, channel)
}

// FindByID finds a conversation by ID
func (a *ConversationRepoAdapter) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return a.postgres.FindConversationByID(ctx, id)
}

// Save saves a conversation
func (a *ConversationRepoAdapter) Save(ctx context.Context, conversation *model.Conversation) error {
	return a.postgres.SaveConversation(ctx, conversation)
}

// Resurrect clears the soft-delete flag on a conversation
func (a *ConversationRepoAdapter) Resurrect(ctx context.Context, id string) error {
	return a.postgres.ResurrectConversation(ctx, id)
}

// RecordInbound stamps inbound activity on a conversation
func (a *ConversationRepoAdapter) RecordInbound(ctx context.Context, id string, at time.Time) error {
	return a.postgres.RecordConversationInbound(ctx, id, at)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

// InsertInbound inserts an inbound message with its dedup record
func (a *MessageRepoAdapter) InsertInbound(ctx context.Context, message *model.Message) error {
	return a.postgres.InsertInboundMessage(ctx, message)
}

// FindByID finds a message by ID
func (a *MessageRepoAdapter) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	return a.postgres.FindMessageByID(ctx, id)
}

// UpdateDeliveryStatus attaches a delivery-status event to an outbound message
func (a *MessageRepoAdapter) UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error {
	return a.postgres.UpdateMessageDeliveryStatus(ctx, providerMessageID, status)
}

// JobRepoAdapter adapts the PostgresRepo to the JobRepo interface
type JobRepoAdapter struct {
	postgres *PostgresRepo
}

// NewJobRepoAdapter creates a new job repository adapter
func NewJobRepoAdapter(postgres *PostgresRepo) JobRepo {
	return &JobRepoAdapter{postgres: postgres}
}

// Enqueue inserts a queued job
func (a *JobRepoAdapter) Enqueue(ctx context.Context, job *model.OutboundJob) error {
	return a.postgres.EnqueueJob(ctx, job)
}

// ClaimDue claims due queued jobs with SKIP LOCKED
func (a *JobRepoAdapter) ClaimDue(ctx context.Context, now time.Time, max int) ([]model.OutboundJob, error) {
	return a.postgres.ClaimDueJobs(ctx, now, max)
}

// MarkDone transitions a job to done
func (a *JobRepoAdapter) MarkDone(ctx context.Context, jobID int64, at time.Time) error {
	return a.postgres.MarkJobDone(ctx, jobID, at)
}

// Requeue schedules a job retry
func (a *JobRepoAdapter) Requeue(ctx context.Context, jobID int64, runAt time.Time, errMsg string) error {
	return a.postgres.RequeueJob(ctx, jobID, runAt, errMsg)
}

// MarkFailed transitions a job to the terminal failed state
func (a *JobRepoAdapter) MarkFailed(ctx context.Context, jobID int64, errMsg string) error {
	return a.postgres.MarkJobFailed(ctx, jobID, errMsg)
}

// CountByStatus summarizes the queue by status
func (a *JobRepoAdapter) CountByStatus(ctx context.Context) (*model.JobStatusCounts, error) {
	return a.postgres.CountJobsByStatus(ctx)
}

// FindStuck lists jobs stuck in running since before olderThan
func (a *JobRepoAdapter) FindStuck(ctx context.Context, olderThan time.Time) ([]model.OutboundJob, error) {
	return a.postgres.FindStuckJobs(ctx, olderThan)
}

// OutboundLogRepoAdapter adapts the PostgresRepo to the OutboundLogRepo interface
type OutboundLogRepoAdapter struct {
	postgres *PostgresRepo
}

// NewOutboundLogRepoAdapter creates a new outbound ledger adapter
func NewOutboundLogRepoAdapter(postgres *PostgresRepo) OutboundLogRepo {
	return &OutboundLogRepoAdapter{postgres: postgres}
}

// WithinTx runs fn inside one transaction scoped to the ledger
func (a *OutboundLogRepoAdapter) WithinTx(ctx context.Context, fn func(txRepo OutboundLogTxRepo) error) error {
	return a.postgres.WithinOutboundTx(ctx, fn)
}

// FindByKey fetches a ledger row by dedupe key
func (a *OutboundLogRepoAdapter) FindByKey(ctx context.Context, dedupeKey string) (*model.OutboundMessageLog, error) {
	return a.postgres.FindOutboundLogByKey(ctx, dedupeKey)
}

// TaskRepoAdapter adapts the PostgresRepo to the TaskRepo interface
type TaskRepoAdapter struct {
	postgres *PostgresRepo
}

// NewTaskRepoAdapter creates a new followup task adapter
func NewTaskRepoAdapter(postgres *PostgresRepo) TaskRepo {
	return &TaskRepoAdapter{postgres: postgres}
}

// Create records a followup task
func (a *TaskRepoAdapter) Create(ctx context.Context, task *model.FollowupTask) error {
	return a.postgres.CreateFollowupTask(ctx, task)
}

// FindUnresolved lists open followup tasks
func (a *TaskRepoAdapter) FindUnresolved(ctx context.Context, limit int) ([]model.FollowupTask, error) {
	return a.postgres.FindUnresolvedFollowupTasks(ctx, limit)
}
