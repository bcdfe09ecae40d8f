package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// AdmitResult reports what one canonical event produced.
type AdmitResult struct {
	Created        bool
	MessageID      int64
	ConversationID string
	ContactID      string
	Eligible       bool
	JobEnqueued    bool
}

// InboundService admits canonical events: contact auto-match, conversation
// resolution, idempotent message insert, and reply-job enqueue.
type InboundService struct {
	contactRepo      storage.ContactRepo
	leadRepo         storage.LeadRepo
	conversationRepo storage.ConversationRepo
	messageRepo      storage.MessageRepo
	jobRepo          storage.JobRepo
	maxAttempts      int
}

// NewInboundService creates the inbound admission service.
func NewInboundService(
	contactRepo storage.ContactRepo,
	leadRepo storage.LeadRepo,
	conversationRepo storage.ConversationRepo,
	messageRepo storage.MessageRepo,
	jobRepo storage.JobRepo,
	maxAttempts int,
) *InboundService {
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	return &InboundService{
		contactRepo:      contactRepo,
		leadRepo:         leadRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		jobRepo:          jobRepo,
		maxAttempts:      maxAttempts,
	}
}

// Admit runs the full admission pipeline for one canonical event.
//
// Duplicate deliveries are resolved at the message insert: the unique
// constraint breaks the tie, the loser returns created=false and performs
// no further side effects. Everything before the insert (contact and
// conversation resolution) is idempotent by construction, so two racing
// duplicates converging there is harmless.
func (s *InboundService) Admit(ctx context.Context, event model.CanonicalEvent) (*AdmitResult, error) {
	if event.SenderID == "" || event.ProviderMessageID == "" {
		return nil, fmt.Errorf("%w: canonical event missing sender or provider message id", apperrors.ErrValidation)
	}

	contact, err := s.resolveContact(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("resolving contact: %w", err)
	}

	conversation, err := s.resolveConversation(ctx, contact, event.Channel)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	message := &model.Message{
		MessageID:         uuid.NewString(),
		ConversationID:    conversation.ID,
		ContactID:         contact.ID,
		Channel:           model.NormalizeChannel(string(event.Channel)),
		ProviderMessageID: event.ProviderMessageID,
		Text:              event.Text,
		SentAt:            event.Timestamp,
	}
	if len(event.Attachments) > 0 {
		message.Attachments = datatypes.JSON(utils.MustMarshalJSON(event.Attachments))
	}

	if err := s.messageRepo.InsertInbound(ctx, message); err != nil {
		if apperrors.IsDuplicateError(err) {
			observer.IncInboundDuplicates(string(event.Channel))
			logger.FromContext(ctx).Info("Duplicate inbound delivery admitted as no-op",
				zap.String("provider_message_id", event.ProviderMessageID),
				zap.String("conversation_id", conversation.ID))
			return &AdmitResult{
				Created:        false,
				ConversationID: conversation.ID,
				ContactID:      contact.ID,
			}, nil
		}
		return nil, fmt.Errorf("inserting inbound message: %w", err)
	}
	observer.IncInboundAdmitted(string(event.Channel))

	if err := s.conversationRepo.RecordInbound(ctx, conversation.ID, event.Timestamp); err != nil {
		// The message is already durable; a failed counter bump is not
		// worth rejecting the event over.
		logger.FromContext(ctx).Warn("Failed to record inbound activity on conversation",
			zap.String("conversation_id", conversation.ID), zap.Error(err))
	}

	result := &AdmitResult{
		Created:        true,
		MessageID:      message.ID,
		ConversationID: conversation.ID,
		ContactID:      contact.ID,
		Eligible:       s.eligible(contact, conversation, event),
	}

	if result.Eligible {
		job := &model.OutboundJob{
			ConversationID:           conversation.ID,
			InboundMessageID:         message.ID,
			InboundProviderMessageID: event.ProviderMessageID,
			MaxAttempts:              s.maxAttempts,
		}
		if err := s.jobRepo.Enqueue(ctx, job); err != nil {
			if !apperrors.IsDuplicateError(err) {
				return nil, fmt.Errorf("enqueueing outbound job: %w", err)
			}
		} else {
			result.JobEnqueued = true
			observer.IncJobsEnqueued(string(event.Channel))
		}
	}

	return result, nil
}

// resolveContact matches or creates the contact the event belongs to.
// Phone-based channels match on normalized E.164; Instagram and Facebook
// match on the channel-scoped provider user id.
func (s *InboundService) resolveContact(ctx context.Context, event model.CanonicalEvent) (*model.Contact, error) {
	channel := model.NormalizeChannel(string(event.Channel))

	var existing *model.Contact
	var err error
	var phone string

	if channel.IsPhoneBased() && event.Phone != "" {
		phone, err = utils.NormalizePhone(event.Phone)
		if err != nil {
			// Keep the raw value; the send path deals with unnormalizable
			// phones by failing the job and opening a followup task.
			logger.FromContext(ctx).Warn("Inbound phone did not normalize, stored raw",
				zap.String("phone", event.Phone), zap.Error(err))
			phone = event.Phone
		}
		existing, err = s.contactRepo.FindByPhone(ctx, phone)
	} else {
		existing, err = s.contactRepo.FindByProviderUserID(ctx, channel, event.SenderID)
	}
	if err == nil {
		if event.ProfileName != "" && existing.Name == model.UnknownContactName {
			existing.Name = event.ProfileName
			if saveErr := s.contactRepo.Save(ctx, existing); saveErr != nil {
				logger.FromContext(ctx).Warn("Failed to backfill contact name", zap.Error(saveErr))
			}
		}
		return existing, nil
	}
	if !apperrors.IsNotFoundError(err) {
		return nil, err
	}

	name := event.ProfileName
	if name == "" {
		name = model.UnknownContactName
	}
	contact := &model.Contact{
		ID:             uuid.NewString(),
		Phone:          phone,
		ProviderUserID: event.SenderID,
		Channel:        channel,
		Name:           name,
	}
	if !channel.IsPhoneBased() {
		contact.Phone = ""
	}

	if err := s.contactRepo.Save(ctx, contact); err != nil {
		if apperrors.IsDuplicateError(err) {
			// Lost a creation race; the winner's row is the contact.
			return s.refindContact(ctx, channel, phone, event.SenderID)
		}
		return nil, err
	}
	observer.IncContactsCreated(string(channel))
	logger.FromContext(ctx).Info("Created contact from inbound event",
		zap.String("contact_id", contact.ID),
		zap.String("channel", string(channel)))

	if channel == model.ChannelLeadAds {
		lead := &model.Lead{
			ID:        uuid.NewString(),
			ContactID: contact.ID,
			Source:    string(model.ChannelLeadAds),
			Status:    "NEW",
		}
		if err := s.leadRepo.Save(ctx, lead); err != nil {
			logger.FromContext(ctx).Warn("Failed to create lead for lead ads contact",
				zap.String("contact_id", contact.ID), zap.Error(err))
		}
	}

	return contact, nil
}

func (s *InboundService) refindContact(ctx context.Context, channel model.Channel, phone, senderID string) (*model.Contact, error) {
	if channel.IsPhoneBased() && phone != "" {
		return s.contactRepo.FindByPhone(ctx, phone)
	}
	return s.contactRepo.FindByProviderUserID(ctx, channel, senderID)
}

// resolveConversation finds or creates the single conversation for the
// contact+channel pair, resurrecting a soft-deleted one.
func (s *InboundService) resolveConversation(ctx context.Context, contact *model.Contact, channel model.Channel) (*model.Conversation, error) {
	channel = model.NormalizeChannel(string(channel))

	conversation, err := s.conversationRepo.FindByContactAndChannel(ctx, contact.ID, channel)
	if err == nil {
		if conversation.IsDeleted {
			if err := s.conversationRepo.Resurrect(ctx, conversation.ID); err != nil {
				return nil, err
			}
			conversation.IsDeleted = false
		}
		return conversation, nil
	}
	if !apperrors.IsNotFoundError(err) {
		return nil, err
	}

	conversation = &model.Conversation{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Channel:   channel,
	}
	if err := s.conversationRepo.Save(ctx, conversation); err != nil {
		if apperrors.IsDuplicateError(err) {
			// Lost a creation race for the (contact, channel) pair.
			return s.conversationRepo.FindByContactAndChannel(ctx, contact.ID, channel)
		}
		return nil, err
	}
	return conversation, nil
}

// eligible decides whether the admitted message warrants an automated
// reply. Conversations owned by a human and content-free events never do.
// Lead Ads events are only reachable by phone, and the webhook itself
// rarely carries one: without a phone on the contact, an enqueued job
// could only ever fail, so none is created.
func (s *InboundService) eligible(contact *model.Contact, conversation *model.Conversation, event model.CanonicalEvent) bool {
	if conversation.HumanAssigned() {
		return false
	}
	if model.NormalizeChannel(string(event.Channel)) == model.ChannelLeadAds && contact.Phone == "" {
		return false
	}
	return event.HasContent()
}
