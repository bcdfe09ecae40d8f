package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/usecase"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// admitterMock mocks the Admitter interface.
type admitterMock struct {
	mock.Mock
}

func (m *admitterMock) Admit(ctx context.Context, event model.CanonicalEvent) (*usecase.AdmitResult, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.AdmitResult), args.Error(1)
}

func testContext(t *testing.T) context.Context {
	logger.Log = zaptest.NewLogger(t).Named("test")
	return context.Background()
}

const whatsAppRawPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"contacts": [{"wa_id": "971501234567", "profile": {"name": "Sara"}}],
				"messages": [
					{"id": "wamid.1", "from": "971501234567", "timestamp": "1756600000", "type": "text", "text": {"body": "hi"}},
					{"id": "wamid.2", "from": "971501234567", "timestamp": "1756600010", "type": "text", "text": {"body": "anyone there?"}}
				]
			}
		}]
	}]
}`

func envelopeBytes(t *testing.T, channel model.Channel, payload string) []byte {
	envelope := model.WebhookEnvelope{
		Channel:    channel,
		ReceivedAt: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
		Payload:    datatypes.JSON(payload),
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	return data
}

func testMetadata(subject string) *model.MessageMetadata {
	return &model.MessageMetadata{
		MessageID:      "msg-1",
		MessageSubject: subject,
		WorkspaceID:    "workspace-test-123",
	}
}

func TestHandle_AdmitsEveryNormalizedEvent(t *testing.T) {
	ctx := testContext(t)
	admitter := new(admitterMock)
	handler := NewWebhookHandler(admitter, nil)

	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.ProviderMessageID == "wamid.1" && event.Text == "hi"
	})).Return(&usecase.AdmitResult{Created: true, JobEnqueued: true}, nil)
	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.ProviderMessageID == "wamid.2"
	})).Return(&usecase.AdmitResult{Created: true}, nil)

	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		envelopeBytes(t, model.ChannelWhatsApp, whatsAppRawPayload))

	require.NoError(t, err)
	admitter.AssertExpectations(t)
}

func TestHandle_MalformedEnvelopeIsFatal(t *testing.T) {
	ctx := testContext(t)
	handler := NewWebhookHandler(new(admitterMock), nil)

	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		[]byte(`{"channel": 12`))

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestHandle_MalformedProviderPayloadIsAbsorbed(t *testing.T) {
	ctx := testContext(t)
	admitter := new(admitterMock)
	handler := NewWebhookHandler(admitter, nil)

	// The envelope parses, the provider payload does not. The normalizer
	// yields nothing and the message is acked without any admission.
	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		envelopeBytes(t, model.ChannelWhatsApp, `"not an object"`))

	require.NoError(t, err)
	admitter.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything)
}

func TestHandle_TransientAdmissionErrorIsRetryable(t *testing.T) {
	ctx := testContext(t)
	admitter := new(admitterMock)
	handler := NewWebhookHandler(admitter, nil)

	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.ProviderMessageID == "wamid.1"
	})).Return(nil, fmt.Errorf("inserting inbound message: %w", apperrors.ErrDatabase))
	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.ProviderMessageID == "wamid.2"
	})).Return(&usecase.AdmitResult{Created: true}, nil)

	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		envelopeBytes(t, model.ChannelWhatsApp, whatsAppRawPayload))

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	// The second event was still attempted despite the first failing.
	admitter.AssertExpectations(t)
}

func TestHandle_PoisonEventIsDroppedOthersSurvive(t *testing.T) {
	ctx := testContext(t)
	admitter := new(admitterMock)
	handler := NewWebhookHandler(admitter, nil)

	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.ProviderMessageID == "wamid.1"
	})).Return(nil, fmt.Errorf("%w: canonical event missing sender", apperrors.ErrValidation))
	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.ProviderMessageID == "wamid.2"
	})).Return(&usecase.AdmitResult{Created: true}, nil)

	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		envelopeBytes(t, model.ChannelWhatsApp, whatsAppRawPayload))

	require.NoError(t, err)
	admitter.AssertExpectations(t)
}

func TestHandle_EnvelopeChannelDefaultsFromSubject(t *testing.T) {
	ctx := testContext(t)
	admitter := new(admitterMock)
	handler := NewWebhookHandler(admitter, nil)

	envelope := model.WebhookEnvelope{
		ReceivedAt: time.Now().UTC(),
		Payload:    datatypes.JSON(whatsAppRawPayload),
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	admitter.On("Admit", mock.Anything, mock.MatchedBy(func(event model.CanonicalEvent) bool {
		return event.Channel == model.ChannelWhatsApp
	})).Return(&usecase.AdmitResult{Created: true}, nil).Twice()

	err = handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"), data)

	require.NoError(t, err)
	admitter.AssertExpectations(t)
}

// statusUpdaterMock mocks the StatusUpdater interface.
type statusUpdaterMock struct {
	mock.Mock
}

func (m *statusUpdaterMock) UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error {
	args := m.Called(ctx, providerMessageID, status)
	return args.Error(0)
}

const whatsAppStatusPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"statuses": [
					{"id": "wamid.out-1", "status": "delivered"},
					{"id": "wamid.out-2", "status": "read"}
				]
			}
		}]
	}]
}`

func TestHandle_AppliesDeliveryReceipts(t *testing.T) {
	ctx := testContext(t)
	statuses := new(statusUpdaterMock)
	handler := NewWebhookHandler(new(admitterMock), statuses)

	statuses.On("UpdateDeliveryStatus", mock.Anything, "wamid.out-1", "delivered").Return(nil)
	statuses.On("UpdateDeliveryStatus", mock.Anything, "wamid.out-2", "read").Return(nil)

	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		envelopeBytes(t, model.ChannelWhatsApp, whatsAppStatusPayload))

	require.NoError(t, err)
	statuses.AssertExpectations(t)
}

func TestHandle_UnknownReceiptIsIgnored(t *testing.T) {
	ctx := testContext(t)
	statuses := new(statusUpdaterMock)
	handler := NewWebhookHandler(new(admitterMock), statuses)

	statuses.On("UpdateDeliveryStatus", mock.Anything, "wamid.out-1", "delivered").
		Return(apperrors.ErrNotFound)
	statuses.On("UpdateDeliveryStatus", mock.Anything, "wamid.out-2", "read").Return(nil)

	err := handler.Handle(ctx, model.V1WebhookWhatsApp, testMetadata("v1.webhook.whatsapp"),
		envelopeBytes(t, model.ChannelWhatsApp, whatsAppStatusPayload))

	require.NoError(t, err)
	statuses.AssertExpectations(t)
}
