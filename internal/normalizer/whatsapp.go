package normalizer

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// WhatsApp Cloud API webhook shapes. Only the fields the pipeline consumes
// are modeled; everything else is ignored by the decoder.
type whatsAppPayload struct {
	Object string          `json:"object"`
	Entry  []whatsAppEntry `json:"entry"`
}

type whatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []whatsAppChange `json:"changes"`
}

type whatsAppChange struct {
	Field string        `json:"field"`
	Value whatsAppValue `json:"value"`
}

type whatsAppValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Contacts         []whatsAppContact `json:"contacts"`
	Messages         []whatsAppMessage `json:"messages"`
	Statuses         []whatsAppStatus  `json:"statuses"`
}

type whatsAppContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type whatsAppMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *whatsAppMedia `json:"image"`
	Video    *whatsAppMedia `json:"video"`
	Audio    *whatsAppMedia `json:"audio"`
	Document *whatsAppMedia `json:"document"`
}

type whatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type whatsAppStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func normalizeWhatsApp(ctx context.Context, payload []byte) []model.CanonicalEvent {
	var body whatsAppPayload
	if err := utils.UnmarshalJSON(payload, &body); err != nil || len(body.Entry) == 0 {
		logger.FromContext(ctx).Warn("Unrecognized WhatsApp webhook shape dropped",
			zap.Error(err), zap.Int("payload_bytes", len(payload)))
		return nil
	}

	var events []model.CanonicalEvent
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			// Profile names arrive in a sibling array keyed by wa_id.
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				epoch, _ := strconv.ParseInt(msg.Timestamp, 10, 64)
				ts := eventTimestamp(epoch)

				event := model.CanonicalEvent{
					Channel:           model.ChannelWhatsApp,
					SenderID:          msg.From,
					Phone:             msg.From,
					ProfileName:       names[msg.From],
					ProviderMessageID: msg.ID,
					Timestamp:         ts,
				}
				if event.ProviderMessageID == "" {
					event.ProviderMessageID = syntheticMessageID(ctx, model.ChannelWhatsApp, ts)
					event.SyntheticID = true
				}
				if msg.Text != nil {
					event.Text = msg.Text.Body
				}
				for _, media := range []*whatsAppMedia{msg.Image, msg.Video, msg.Audio, msg.Document} {
					if media == nil {
						continue
					}
					event.Attachments = append(event.Attachments, model.Attachment{
						ProviderMediaID: media.ID,
						MimeType:        media.MimeType,
					})
					if event.Text == "" && media.Caption != "" {
						event.Text = media.Caption
					}
				}
				events = append(events, event)
			}

			if len(change.Value.Statuses) > 0 {
				logger.FromContext(ctx).Debug("WhatsApp status change ignored by normalizer",
					zap.Int("statuses", len(change.Value.Statuses)))
			}
		}
	}
	return events
}
