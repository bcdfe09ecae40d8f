package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/channel"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	storagemock "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage/mock"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// senderMock mocks the channel.Sender interface.
type senderMock struct {
	mock.Mock
}

func (m *senderMock) SendText(ctx context.Context, recipient, text string) (*channel.SendResult, error) {
	args := m.Called(ctx, recipient, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.SendResult), args.Error(1)
}

func (m *senderMock) SendTemplate(ctx context.Context, recipient, templateName, locale string, params []string) (*channel.SendResult, error) {
	args := m.Called(ctx, recipient, templateName, locale, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.SendResult), args.Error(1)
}

func (m *senderMock) SendMedia(ctx context.Context, recipient, mediaType, urlOrID, caption string) (*channel.SendResult, error) {
	args := m.Called(ctx, recipient, mediaType, urlOrID, caption)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.SendResult), args.Error(1)
}

func testContext(t *testing.T) context.Context {
	logger.Log = zaptest.NewLogger(t).Named("test")
	return context.Background()
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
}

func newTestSender(logRepo *storagemock.OutboundLogRepoMock, whatsapp channel.Sender) *OutboundSender {
	sender := NewOutboundSender(logRepo, channel.Senders{
		model.ChannelWhatsApp: whatsapp,
	})
	sender.now = fixedNow
	return sender
}

func directInput() SendInput {
	return SendInput{
		ConversationID:           "conv-1",
		ContactID:                "contact-1",
		Channel:                  model.ChannelWhatsApp,
		Recipient:                "+971501234567",
		Text:                     "Our opening hours are 9 to 6.",
		TriggerProviderMessageID: "wamid.trigger-1",
		ReplyType:                model.ReplyTypeDirect,
		Kind:                     SendKindText,
	}
}

func TestDeriveDedupeKey_FlowIgnoresQuestionKeyFormatting(t *testing.T) {
	base := SendInput{
		ConversationID: "conv-1",
		ReplyType:      model.ReplyTypeFlow,
		QuestionKey:    "budget_range",
	}
	variant := base
	variant.QuestionKey = "  Budget_Range "

	now := fixedNow()
	assert.Equal(t, DeriveDedupeKey(base, now), DeriveDedupeKey(variant, now))
}

func TestDeriveDedupeKey_FlowChangesAcrossDayAndConversation(t *testing.T) {
	input := SendInput{
		ConversationID: "conv-1",
		ReplyType:      model.ReplyTypeFlow,
		QuestionKey:    "budget_range",
	}

	now := fixedNow()
	sameDayLater := now.Add(5 * time.Hour)
	nextDay := now.Add(24 * time.Hour)

	assert.Equal(t, DeriveDedupeKey(input, now), DeriveDedupeKey(input, sameDayLater))
	assert.NotEqual(t, DeriveDedupeKey(input, now), DeriveDedupeKey(input, nextDay))

	other := input
	other.ConversationID = "conv-2"
	assert.NotEqual(t, DeriveDedupeKey(input, now), DeriveDedupeKey(other, now))
}

func TestDeriveDedupeKey_DirectBoundToTriggerAndText(t *testing.T) {
	input := directInput()

	now := fixedNow()
	nextDay := now.Add(24 * time.Hour)

	// Direct replies dedupe per trigger message, not per day.
	assert.Equal(t, DeriveDedupeKey(input, now), DeriveDedupeKey(input, nextDay))

	otherText := input
	otherText.Text = "A different answer."
	assert.NotEqual(t, DeriveDedupeKey(input, now), DeriveDedupeKey(otherText, now))

	otherTrigger := input
	otherTrigger.TriggerProviderMessageID = "wamid.trigger-2"
	assert.NotEqual(t, DeriveDedupeKey(input, now), DeriveDedupeKey(otherTrigger, now))
}

func TestSend_PerformsProviderCallAndRecords(t *testing.T) {
	ctx := testContext(t)
	logRepo := new(storagemock.OutboundLogRepoMock)
	provider := new(senderMock)
	sender := newTestSender(logRepo, provider)

	input := directInput()
	key := DeriveDedupeKey(input, fixedNow())

	logRepo.On("FindByKey", ctx, key).Return(nil, apperrors.ErrNotFound)
	logRepo.On("WithinTx", ctx, mock.Anything).Return(nil)
	logRepo.TxRepo.On("Insert", mock.MatchedBy(func(row *model.OutboundMessageLog) bool {
		return row.DedupeKey == key && row.ConversationID == "conv-1"
	})).Return(nil)
	provider.On("SendText", ctx, "+971501234567", input.Text).
		Return(&channel.SendResult{MessageID: "wamid.sent-1"}, nil)
	logRepo.TxRepo.On("SetProviderMessageID", key, "wamid.sent-1").Return(nil)
	logRepo.TxRepo.On("InsertOutboundMessage", mock.MatchedBy(func(message *model.Message) bool {
		return message.ConversationID == "conv-1" &&
			message.ProviderMessageID == "wamid.sent-1" &&
			message.Text == input.Text
	})).Return(nil)
	logRepo.TxRepo.On("RecordConversationOutbound", "conv-1", fixedNow()).Return(nil)

	outcome, err := sender.Send(ctx, input)

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.False(t, outcome.WasDuplicate)
	assert.Equal(t, "wamid.sent-1", outcome.ProviderMessageID)
	logRepo.AssertExpectations(t)
	logRepo.TxRepo.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestSend_LedgerPreCheckSuppressesResend(t *testing.T) {
	ctx := testContext(t)
	logRepo := new(storagemock.OutboundLogRepoMock)
	provider := new(senderMock)
	sender := newTestSender(logRepo, provider)

	input := directInput()
	key := DeriveDedupeKey(input, fixedNow())
	logRepo.On("FindByKey", ctx, key).Return(&model.OutboundMessageLog{
		DedupeKey:         key,
		ProviderMessageID: "wamid.earlier",
	}, nil)

	outcome, err := sender.Send(ctx, input)

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.WasDuplicate)
	assert.Equal(t, "wamid.earlier", outcome.ProviderMessageID)
	logRepo.AssertNotCalled(t, "WithinTx", mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_LedgerConstraintBreaksRace(t *testing.T) {
	ctx := testContext(t)
	logRepo := new(storagemock.OutboundLogRepoMock)
	provider := new(senderMock)
	sender := newTestSender(logRepo, provider)

	input := directInput()
	logRepo.On("FindByKey", ctx, mock.AnythingOfType("string")).Return(nil, apperrors.ErrNotFound)
	logRepo.On("WithinTx", ctx, mock.Anything).Return(nil)
	// Another attempt committed the ledger row between pre-check and insert.
	logRepo.TxRepo.On("Insert", mock.Anything).Return(apperrors.ErrDuplicate)

	outcome, err := sender.Send(ctx, input)

	require.NoError(t, err)
	assert.True(t, outcome.WasDuplicate)
	provider.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_ProviderFailureRollsBackLedger(t *testing.T) {
	ctx := testContext(t)
	logRepo := new(storagemock.OutboundLogRepoMock)
	provider := new(senderMock)
	sender := newTestSender(logRepo, provider)

	input := directInput()
	logRepo.On("FindByKey", ctx, mock.AnythingOfType("string")).Return(nil, apperrors.ErrNotFound)
	logRepo.On("WithinTx", ctx, mock.Anything).Return(nil)
	logRepo.TxRepo.On("Insert", mock.Anything).Return(nil)
	provider.On("SendText", ctx, input.Recipient, input.Text).
		Return(nil, apperrors.NewRetryable(fmt.Errorf("%w: status 503", apperrors.ErrProvider), "provider unavailable"))

	outcome, err := sender.Send(ctx, input)

	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.True(t, apperrors.IsRetryable(err))
	logRepo.TxRepo.AssertNotCalled(t, "SetProviderMessageID", mock.Anything, mock.Anything)
	logRepo.TxRepo.AssertNotCalled(t, "InsertOutboundMessage", mock.Anything)
}

func TestSend_TemplateKindCallsTemplate(t *testing.T) {
	ctx := testContext(t)
	logRepo := new(storagemock.OutboundLogRepoMock)
	provider := new(senderMock)
	sender := newTestSender(logRepo, provider)

	input := directInput()
	input.Kind = SendKindTemplate
	input.TemplateName = "followup_generic"
	input.TemplateLocale = "en"
	input.TemplateParams = []string{"Sara"}

	logRepo.On("FindByKey", ctx, mock.AnythingOfType("string")).Return(nil, apperrors.ErrNotFound)
	logRepo.On("WithinTx", ctx, mock.Anything).Return(nil)
	logRepo.TxRepo.On("Insert", mock.Anything).Return(nil)
	provider.On("SendTemplate", ctx, input.Recipient, "followup_generic", "en", []string{"Sara"}).
		Return(&channel.SendResult{MessageID: "wamid.tmpl-1"}, nil)
	logRepo.TxRepo.On("SetProviderMessageID", mock.AnythingOfType("string"), "wamid.tmpl-1").Return(nil)
	logRepo.TxRepo.On("InsertOutboundMessage", mock.Anything).Return(nil)
	logRepo.TxRepo.On("RecordConversationOutbound", "conv-1", fixedNow()).Return(nil)

	outcome, err := sender.Send(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, "wamid.tmpl-1", outcome.ProviderMessageID)
	provider.AssertExpectations(t)
}

func TestSend_EmptyRecipientIsPermanent(t *testing.T) {
	ctx := testContext(t)
	sender := newTestSender(new(storagemock.OutboundLogRepoMock), new(senderMock))

	input := directInput()
	input.Recipient = ""

	_, err := sender.Send(ctx, input)

	require.Error(t, err)
	assert.True(t, apperrors.IsPermanentDataError(err))
}

func TestSend_UnknownChannelIsFatal(t *testing.T) {
	ctx := testContext(t)
	logRepo := new(storagemock.OutboundLogRepoMock)
	sender := newTestSender(logRepo, new(senderMock))

	input := directInput()
	input.Channel = model.ChannelInstagram
	logRepo.On("FindByKey", ctx, mock.AnythingOfType("string")).Return(nil, apperrors.ErrNotFound)

	_, err := sender.Send(ctx, input)

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}
