package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/normalizer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/usecase"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/validator"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// Admitter is the admission surface the handler drives events into.
type Admitter interface {
	Admit(ctx context.Context, event model.CanonicalEvent) (*usecase.AdmitResult, error)
}

// StatusUpdater applies provider delivery receipts to outbound messages.
type StatusUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) error
}

// WebhookHandler turns one raw webhook envelope into zero or more admitted
// messages. Normalization itself never fails; admission can.
type WebhookHandler struct {
	admitter Admitter
	statuses StatusUpdater
}

// NewWebhookHandler creates the webhook event handler.
func NewWebhookHandler(admitter Admitter, statuses StatusUpdater) *WebhookHandler {
	return &WebhookHandler{admitter: admitter, statuses: statuses}
}

// Handle processes one webhook envelope from the stream.
//
// A malformed envelope is poison: returning a fatal error routes it to the
// dead letter subject instead of redelivery. A retryable admission error
// (database down) is returned as-is so the whole envelope is redelivered;
// events already admitted in this pass are absorbed by the inbound dedup
// constraint on the retry.
func (h *WebhookHandler) Handle(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var envelope model.WebhookEnvelope
	if err := utils.UnmarshalJSON(rawEvent, &envelope); err != nil {
		return apperrors.NewFatal(err, "unmarshalling webhook envelope")
	}
	if envelope.Channel == "" {
		envelope.Channel = eventType.ChannelOf()
	}

	h.applyStatusUpdates(ctx, envelope)

	events := normalizer.Normalize(ctx, envelope)
	if len(events) == 0 {
		log.Debug("Webhook envelope produced no canonical events",
			zap.String("channel", string(envelope.Channel)))
		return nil
	}

	var retryErr error
	for _, event := range events {
		if err := validator.Validate(event); err != nil {
			// The normalizer promises structurally complete events; one
			// failing here is a normalizer gap, not a caller problem.
			log.Warn("Dropping canonical event that failed validation",
				zap.String("channel", string(event.Channel)),
				zap.Error(err))
			observer.IncEventsDropped(string(event.Channel))
			continue
		}

		result, err := h.admitter.Admit(ctx, event)
		if err != nil {
			if apperrors.IsRetryable(err) || apperrors.IsDatabaseError(err) {
				// Remember the first transient failure but keep admitting
				// the rest of the batch; redelivery re-runs everything.
				if retryErr == nil {
					retryErr = apperrors.NewRetryable(err, "admitting canonical event")
				}
				continue
			}
			// Poison event inside an otherwise fine envelope. Dropping it
			// is deliberate: redelivery cannot fix it and must not block
			// the sibling events.
			log.Warn("Dropping unprocessable canonical event",
				zap.String("provider_message_id", event.ProviderMessageID),
				zap.String("channel", string(event.Channel)),
				zap.Error(err))
			observer.IncEventsDropped(string(event.Channel))
			continue
		}

		log.Debug("Canonical event admitted",
			zap.String("provider_message_id", event.ProviderMessageID),
			zap.Bool("created", result.Created),
			zap.Bool("job_enqueued", result.JobEnqueued))
	}

	return retryErr
}

// applyStatusUpdates handles the delivery receipts riding in the same
// envelope as messages. Receipts are best effort: the provider resends
// nothing, so a failed update is logged and forgotten.
func (h *WebhookHandler) applyStatusUpdates(ctx context.Context, envelope model.WebhookEnvelope) {
	if h.statuses == nil {
		return
	}
	log := logger.FromContext(ctx)

	for _, update := range normalizer.ExtractStatusUpdates(ctx, envelope) {
		err := h.statuses.UpdateDeliveryStatus(ctx, update.ProviderMessageID, update.Status)
		if err == nil {
			continue
		}
		if apperrors.IsNotFoundError(err) {
			// Receipts can arrive for messages sent outside this pipeline.
			log.Debug("Delivery receipt for unknown outbound message",
				zap.String("provider_message_id", update.ProviderMessageID),
				zap.String("status", update.Status))
			continue
		}
		log.Warn("Failed to apply delivery receipt",
			zap.String("provider_message_id", update.ProviderMessageID),
			zap.String("status", update.Status),
			zap.Error(err))
	}
}
