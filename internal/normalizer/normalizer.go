// Package normalizer converts raw provider webhook payloads into canonical
// channel-agnostic events. Decoders are pure and never fail: a payload shape
// the decoder does not recognize yields zero events plus a warning log,
// because providers change shapes over time and the webhook surface must
// keep acknowledging quickly no matter what arrives.
package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// Normalize decodes one webhook envelope into canonical events.
func Normalize(ctx context.Context, envelope model.WebhookEnvelope) []model.CanonicalEvent {
	switch model.NormalizeChannel(string(envelope.Channel)) {
	case model.ChannelWhatsApp:
		return normalizeWhatsApp(ctx, envelope.Payload)
	case model.ChannelInstagram:
		return normalizeMessenger(ctx, model.ChannelInstagram, envelope.Payload)
	case model.ChannelFacebook:
		return normalizeMessenger(ctx, model.ChannelFacebook, envelope.Payload)
	case model.ChannelLeadAds:
		return normalizeLeadAds(ctx, envelope.Payload)
	default:
		logger.FromContext(ctx).Warn("Webhook for unknown channel dropped",
			zap.String("channel", string(envelope.Channel)))
		return nil
	}
}

// syntheticMessageID builds a locally generated provider message id when the
// payload carries none. It keeps the pipeline alive but defeats idempotency
// for that single event, so every use is logged as a data-quality warning.
func syntheticMessageID(ctx context.Context, channel model.Channel, ts time.Time) string {
	id := fmt.Sprintf("%s:%d:%s", channel, ts.Unix(), uuid.NewString())
	logger.FromContext(ctx).Warn("Provider message id missing, synthesized locally",
		zap.String("channel", string(channel)),
		zap.String("synthetic_id", id))
	return id
}

// eventTimestamp interprets a provider epoch value that may be in seconds
// or milliseconds. Zero means "now".
func eventTimestamp(epoch int64) time.Time {
	if epoch <= 0 {
		return utils.Now()
	}
	if epoch > 1e12 {
		return utils.UnixToTimeWithMilliseconds(epoch)
	}
	return utils.UnixToTime(epoch)
}
