package normalizer

import (
	"context"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// Messenger platform webhook shapes, shared by Instagram DMs and Facebook
// Messenger. The sender is a page-scoped user id, never a phone number.
type messengerPayload struct {
	Object string           `json:"object"`
	Entry  []messengerEntry `json:"entry"`
}

type messengerEntry struct {
	ID        string               `json:"id"`
	Time      int64                `json:"time"`
	Messaging []messengerMessaging `json:"messaging"`
}

type messengerMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64             `json:"timestamp"`
	Message   *messengerMessage `json:"message"`
}

type messengerMessage struct {
	MID         string                `json:"mid"`
	Text        string                `json:"text"`
	IsEcho      bool                  `json:"is_echo"`
	Attachments []messengerAttachment `json:"attachments"`
}

type messengerAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

func normalizeMessenger(ctx context.Context, channel model.Channel, payload []byte) []model.CanonicalEvent {
	var body messengerPayload
	if err := utils.UnmarshalJSON(payload, &body); err != nil || len(body.Entry) == 0 {
		logger.FromContext(ctx).Warn("Unrecognized Messenger webhook shape dropped",
			zap.String("channel", string(channel)),
			zap.Error(err), zap.Int("payload_bytes", len(payload)))
		return nil
	}

	var events []model.CanonicalEvent
	for _, entry := range body.Entry {
		for _, messaging := range entry.Messaging {
			if messaging.Message == nil {
				continue // delivery receipts, read events, postbacks
			}
			if messaging.Message.IsEcho {
				// Echoes of our own page sends come back through the same
				// webhook; treating them as inbound would reply to ourselves.
				continue
			}

			ts := eventTimestamp(messaging.Timestamp)
			event := model.CanonicalEvent{
				Channel:           channel,
				SenderID:          messaging.Sender.ID,
				ProviderMessageID: messaging.Message.MID,
				Text:              messaging.Message.Text,
				Timestamp:         ts,
			}
			if event.ProviderMessageID == "" {
				event.ProviderMessageID = syntheticMessageID(ctx, channel, ts)
				event.SyntheticID = true
			}
			for _, attachment := range messaging.Message.Attachments {
				event.Attachments = append(event.Attachments, model.Attachment{
					MediaURL: attachment.Payload.URL,
					MimeType: attachment.Type,
				})
			}
			events = append(events, event)
		}
	}
	return events
}
