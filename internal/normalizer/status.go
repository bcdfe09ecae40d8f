package normalizer

import (
	"context"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// StatusUpdate is a provider delivery receipt for an outbound message.
type StatusUpdate struct {
	ProviderMessageID string
	Status            string
}

// ExtractStatusUpdates pulls delivery receipts out of a webhook envelope.
// Only WhatsApp reports per-message delivery states; other channels yield
// nothing. Like Normalize, this never fails: unparseable payloads produce
// an empty slice.
func ExtractStatusUpdates(ctx context.Context, envelope model.WebhookEnvelope) []StatusUpdate {
	if model.NormalizeChannel(string(envelope.Channel)) != model.ChannelWhatsApp {
		return nil
	}

	var body whatsAppPayload
	if err := utils.UnmarshalJSON(envelope.Payload, &body); err != nil {
		return nil
	}

	var updates []StatusUpdate
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				if status.ID == "" || status.Status == "" {
					continue
				}
				updates = append(updates, StatusUpdate{
					ProviderMessageID: status.ID,
					Status:            status.Status,
				})
			}
		}
	}
	return updates
}
