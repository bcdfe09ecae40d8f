package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ContactRepoMock) Save(ctx context.Context, contact *model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *ContactRepoMock) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindByPhone mocks the FindByPhone method
func (m *ContactRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindByProviderUserID mocks the FindByProviderUserID method
func (m *ContactRepoMock) FindByProviderUserID(ctx context.Context, channel model.Channel, providerUserID string) (*model.Contact, error) {
	args := m.Called(ctx, channel, providerUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// Merge mocks the Merge method
func (m *ContactRepoMock) Merge(ctx context.Context, canonicalID, duplicateID string) error {
	args := m.Called(ctx, canonicalID, duplicateID)
	return args.Error(0)
}

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *LeadRepoMock) Save(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

// FindLatestByContactID mocks the FindLatestByContactID method
func (m *LeadRepoMock) FindLatestByContactID(ctx context.Context, contactID string) (*model.Lead, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

// FindByContactAndChannel mocks the FindByContactAndChannel method
func (m *ConversationRepoMock) FindByContactAndChannel(ctx context.Context, contactID string, channel model.Channel) (*model.Conversation, error) {
	args := m.Called(ctx, contactID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// FindByID mocks the FindByID method
func (m *ConversationRepoMock) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// Save mocks the Save method
func (m *ConversationRepoMock) Save(ctx context.Context, conversation *model.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

// Resurrect mocks the Resurrect method
func (m *ConversationRepoMock) Resurrect(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// RecordInbound mocks the RecordInbound method
func (m *ConversationRepoMock) RecordInbound(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

// InsertInbound mocks the InsertInbound method
func (m *MessageRepoMock) InsertInbound(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *MessageRepoMock) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// UpdateDeliveryStatus mocks the UpdateDeliveryStatus method
func (m *MessageRepoMock) UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error {
	args := m.Called(ctx, providerMessageID, status)
	return args.Error(0)
}

// --- JobRepo Mock ---

// JobRepoMock mocks the JobRepo interface
type JobRepoMock struct {
	mock.Mock
}

// Enqueue mocks the Enqueue method
func (m *JobRepoMock) Enqueue(ctx context.Context, job *model.OutboundJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// ClaimDue mocks the ClaimDue method
func (m *JobRepoMock) ClaimDue(ctx context.Context, now time.Time, max int) ([]model.OutboundJob, error) {
	args := m.Called(ctx, now, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboundJob), args.Error(1)
}

// MarkDone mocks the MarkDone method
func (m *JobRepoMock) MarkDone(ctx context.Context, jobID int64, at time.Time) error {
	args := m.Called(ctx, jobID, at)
	return args.Error(0)
}

// Requeue mocks the Requeue method
func (m *JobRepoMock) Requeue(ctx context.Context, jobID int64, runAt time.Time, errMsg string) error {
	args := m.Called(ctx, jobID, runAt, errMsg)
	return args.Error(0)
}

// MarkFailed mocks the MarkFailed method
func (m *JobRepoMock) MarkFailed(ctx context.Context, jobID int64, errMsg string) error {
	args := m.Called(ctx, jobID, errMsg)
	return args.Error(0)
}

// CountByStatus mocks the CountByStatus method
func (m *JobRepoMock) CountByStatus(ctx context.Context) (*model.JobStatusCounts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobStatusCounts), args.Error(1)
}

// FindStuck mocks the FindStuck method
func (m *JobRepoMock) FindStuck(ctx context.Context, olderThan time.Time) ([]model.OutboundJob, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboundJob), args.Error(1)
}

// --- OutboundLogRepo Mock ---

// OutboundLogRepoMock mocks the OutboundLogRepo interface
type OutboundLogRepoMock struct {
	mock.Mock
	// TxRepo is handed to WithinTx callbacks; set expectations on it directly.
	TxRepo OutboundLogTxRepoMock
}

// WithinTx mocks the WithinTx method by invoking fn with the embedded TxRepo
func (m *OutboundLogRepoMock) WithinTx(ctx context.Context, fn func(txRepo storage.OutboundLogTxRepo) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(&m.TxRepo)
}

// FindByKey mocks the FindByKey method
func (m *OutboundLogRepoMock) FindByKey(ctx context.Context, dedupeKey string) (*model.OutboundMessageLog, error) {
	args := m.Called(ctx, dedupeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboundMessageLog), args.Error(1)
}

// OutboundLogTxRepoMock mocks the transactional ledger surface
type OutboundLogTxRepoMock struct {
	mock.Mock
}

// Insert mocks the Insert method
func (m *OutboundLogTxRepoMock) Insert(log *model.OutboundMessageLog) error {
	args := m.Called(log)
	return args.Error(0)
}

// SetProviderMessageID mocks the SetProviderMessageID method
func (m *OutboundLogTxRepoMock) SetProviderMessageID(dedupeKey, providerMessageID string) error {
	args := m.Called(dedupeKey, providerMessageID)
	return args.Error(0)
}

// InsertOutboundMessage mocks the InsertOutboundMessage method
func (m *OutboundLogTxRepoMock) InsertOutboundMessage(message *model.Message) error {
	args := m.Called(message)
	return args.Error(0)
}

// RecordConversationOutbound mocks the RecordConversationOutbound method
func (m *OutboundLogTxRepoMock) RecordConversationOutbound(conversationID string, at time.Time) error {
	args := m.Called(conversationID, at)
	return args.Error(0)
}

// --- TaskRepo Mock ---

// TaskRepoMock mocks the TaskRepo interface
type TaskRepoMock struct {
	mock.Mock
}

// Create mocks the Create method
func (m *TaskRepoMock) Create(ctx context.Context, task *model.FollowupTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// FindUnresolved mocks the FindUnresolved method
func (m *TaskRepoMock) FindUnresolved(ctx context.Context, limit int) ([]model.FollowupTask, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FollowupTask), args.Error(1)
}
