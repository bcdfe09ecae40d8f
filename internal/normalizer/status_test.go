package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

func TestExtractStatusUpdates(t *testing.T) {
	ctx := testContext(t)
	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"statuses": [
						{"id": "wamid.out-1", "status": "delivered"},
						{"id": "wamid.out-2", "status": "read"},
						{"id": "", "status": "sent"}
					]
				}
			}]
		}]
	}`

	updates := ExtractStatusUpdates(ctx, newEnvelope(model.ChannelWhatsApp, payload))

	require.Len(t, updates, 2)
	assert.Equal(t, StatusUpdate{ProviderMessageID: "wamid.out-1", Status: "delivered"}, updates[0])
	assert.Equal(t, StatusUpdate{ProviderMessageID: "wamid.out-2", Status: "read"}, updates[1])
}

func TestExtractStatusUpdates_NonWhatsAppYieldsNothing(t *testing.T) {
	ctx := testContext(t)
	payload := `{"entry": [{"changes": [{"value": {"statuses": [{"id": "x", "status": "read"}]}}]}]}`

	assert.Empty(t, ExtractStatusUpdates(ctx, newEnvelope(model.ChannelInstagram, payload)))
}

func TestExtractStatusUpdates_MalformedPayloadYieldsNothing(t *testing.T) {
	ctx := testContext(t)

	assert.Empty(t, ExtractStatusUpdates(ctx, newEnvelope(model.ChannelWhatsApp, `"garbage"`)))
}
