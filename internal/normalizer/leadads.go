package normalizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// Lead Ads webhook shapes. The webhook only announces that a lead exists;
// the lead's field data (phone, name) is fetched later via the Graph API
// by whoever consumes the event. The leadgen id doubles as the provider
// message id, which keeps ingestion idempotent per lead.
type leadAdsPayload struct {
	Object string         `json:"object"`
	Entry  []leadAdsEntry `json:"entry"`
}

type leadAdsEntry struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Changes []leadAdsChange `json:"changes"`
}

type leadAdsChange struct {
	Field string       `json:"field"`
	Value leadAdsValue `json:"value"`
}

type leadAdsValue struct {
	LeadgenID   int64          `json:"leadgen_id"`
	PageID      int64          `json:"page_id"`
	FormID      int64          `json:"form_id"`
	AdID        int64          `json:"ad_id"`
	CreatedTime int64          `json:"created_time"`
	FieldData   []leadAdsField `json:"field_data"`
}

type leadAdsField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// fieldValue returns the first value of the named form field, if any.
func (v leadAdsValue) fieldValue(names ...string) string {
	for _, field := range v.FieldData {
		for _, name := range names {
			if field.Name == name && len(field.Values) > 0 {
				return field.Values[0]
			}
		}
	}
	return ""
}

func normalizeLeadAds(ctx context.Context, payload []byte) []model.CanonicalEvent {
	var body leadAdsPayload
	if err := utils.UnmarshalJSON(payload, &body); err != nil || len(body.Entry) == 0 {
		logger.FromContext(ctx).Warn("Unrecognized Lead Ads webhook shape dropped",
			zap.Error(err), zap.Int("payload_bytes", len(payload)))
		return nil
	}

	var events []model.CanonicalEvent
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			if change.Field != "leadgen" || change.Value.LeadgenID == 0 {
				logger.FromContext(ctx).Debug("Lead Ads change ignored",
					zap.String("field", change.Field))
				continue
			}

			// Field data is usually fetched later via the Graph API, but
			// some deliveries inline it. A phone lifted here makes the
			// lead reachable for an automated reply right away.
			ts := eventTimestamp(change.Value.CreatedTime)
			events = append(events, model.CanonicalEvent{
				Channel:           model.ChannelLeadAds,
				SenderID:          fmt.Sprintf("leadgen:%d", change.Value.LeadgenID),
				ProviderMessageID: fmt.Sprintf("leadgen:%d", change.Value.LeadgenID),
				Phone:             change.Value.fieldValue("phone_number", "phone"),
				ProfileName:       change.Value.fieldValue("full_name", "name"),
				Text:              fmt.Sprintf("New lead from form %d", change.Value.FormID),
				Timestamp:         ts,
			})
		}
	}
	return events
}
