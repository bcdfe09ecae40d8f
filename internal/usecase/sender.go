package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/channel"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// SendKind selects the provider operation used for the outbound message.
type SendKind string

const (
	SendKindText     SendKind = "text"
	SendKindTemplate SendKind = "template"
)

// SendInput carries everything the idempotent sender needs for one reply.
type SendInput struct {
	ConversationID           string
	ContactID                string
	Channel                  model.Channel
	Recipient                string // E.164 phone or provider user id
	Text                     string
	TriggerProviderMessageID string
	ReplyType                string // model.ReplyTypeFlow or model.ReplyTypeDirect
	QuestionKey              string

	Kind           SendKind
	TemplateName   string
	TemplateLocale string
	TemplateParams []string
}

// SendOutcome reports what the sender did.
type SendOutcome struct {
	Success           bool
	WasDuplicate      bool
	ProviderMessageID string
}

// OutboundSender performs idempotent provider sends. The dedupe-key ledger
// is the second safety net beyond the job queue: even if two job attempts
// reach the send step, only one row for the derived key can exist, so only
// one provider call happens.
type OutboundSender struct {
	outboundLogRepo storage.OutboundLogRepo
	senders         channel.Senders
	now             func() time.Time
}

// NewOutboundSender creates the idempotent sender.
func NewOutboundSender(outboundLogRepo storage.OutboundLogRepo, senders channel.Senders) *OutboundSender {
	return &OutboundSender{
		outboundLogRepo: outboundLogRepo,
		senders:         senders,
		now:             time.Now,
	}
}

// DeriveDedupeKey computes the deterministic idempotency key for a reply.
//
// Flow replies hash (conversation, reply type, normalized question key,
// UTC day bucket): re-entering the same flow state must not re-ask the
// same question within a day. Direct replies hash (trigger message id,
// text hash): one answer per triggering message, regardless of day.
func DeriveDedupeKey(input SendInput, now time.Time) string {
	var material string
	if input.ReplyType == model.ReplyTypeFlow {
		material = strings.Join([]string{
			input.ConversationID,
			input.ReplyType,
			normalizeQuestionKey(input.QuestionKey),
			now.UTC().Format("2006-01-02"),
		}, "|")
	} else {
		textHash := sha256.Sum256([]byte(input.Text))
		material = strings.Join([]string{
			input.TriggerProviderMessageID,
			hex.EncodeToString(textHash[:]),
		}, "|")
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

func normalizeQuestionKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Send performs the idempotent send. The ledger insert, the provider call
// and the outbound message row share one transaction: a provider failure
// rolls the ledger row back, so its presence always means "attempted and
// in flight or succeeded", never "attempted and silently failed".
func (s *OutboundSender) Send(ctx context.Context, input SendInput) (*SendOutcome, error) {
	if input.Recipient == "" {
		return nil, fmt.Errorf("%w: empty recipient", apperrors.ErrPermanentData)
	}

	dedupeKey := DeriveDedupeKey(input, s.now())
	log := logger.FromContext(ctx).With(
		zap.String("conversation_id", input.ConversationID),
		zap.String("dedupe_key", dedupeKey))

	// Cheap pre-check outside the transaction. The ledger's unique
	// constraint inside the transaction remains the authoritative gate.
	if existing, err := s.outboundLogRepo.FindByKey(ctx, dedupeKey); err == nil {
		log.Info("Outbound reply suppressed by ledger pre-check")
		observer.IncSendsSuppressed(string(input.Channel))
		return &SendOutcome{Success: true, WasDuplicate: true, ProviderMessageID: existing.ProviderMessageID}, nil
	} else if !apperrors.IsNotFoundError(err) {
		return nil, err
	}

	sender, err := s.senders.For(input.Channel)
	if err != nil {
		return nil, apperrors.NewFatal(err, "resolving channel sender")
	}

	var providerMessageID string
	txErr := s.outboundLogRepo.WithinTx(ctx, func(txRepo storage.OutboundLogTxRepo) error {
		ledgerRow := &model.OutboundMessageLog{
			DedupeKey:        dedupeKey,
			ConversationID:   input.ConversationID,
			ReplyType:        input.ReplyType,
			QuestionKey:      normalizeQuestionKey(input.QuestionKey),
			TriggerMessageID: input.TriggerProviderMessageID,
		}
		if err := txRepo.Insert(ledgerRow); err != nil {
			return err
		}

		result, err := s.callProvider(ctx, sender, input)
		if err != nil {
			return err
		}
		providerMessageID = result.MessageID

		if err := txRepo.SetProviderMessageID(dedupeKey, providerMessageID); err != nil {
			return err
		}

		sentAt := s.now()
		if err := txRepo.InsertOutboundMessage(&model.Message{
			MessageID:         uuid.NewString(),
			ConversationID:    input.ConversationID,
			ContactID:         input.ContactID,
			Channel:           model.NormalizeChannel(string(input.Channel)),
			ProviderMessageID: providerMessageID,
			Text:              input.Text,
			SentAt:            sentAt,
		}); err != nil {
			return err
		}
		return txRepo.RecordConversationOutbound(input.ConversationID, sentAt)
	})
	if txErr != nil {
		if apperrors.IsDuplicateError(txErr) {
			// Another attempt won the ledger insert between pre-check and
			// commit. Treated as success without re-sending.
			log.Info("Outbound reply suppressed by ledger constraint")
			observer.IncSendsSuppressed(string(input.Channel))
			return &SendOutcome{Success: true, WasDuplicate: true}, nil
		}
		return nil, txErr
	}

	observer.IncSendsPerformed(string(input.Channel))
	log.Info("Outbound reply sent", zap.String("provider_message_id", providerMessageID))
	return &SendOutcome{Success: true, ProviderMessageID: providerMessageID}, nil
}

func (s *OutboundSender) callProvider(ctx context.Context, sender channel.Sender, input SendInput) (*channel.SendResult, error) {
	switch input.Kind {
	case SendKindTemplate:
		return sender.SendTemplate(ctx, input.Recipient, input.TemplateName, input.TemplateLocale, input.TemplateParams)
	default:
		return sender.SendText(ctx, input.Recipient, input.Text)
	}
}
