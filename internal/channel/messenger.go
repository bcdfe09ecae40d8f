package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// MessengerClient sends messages through the Graph Send API, used for both
// Instagram DMs and Facebook Messenger. Recipients are page-scoped user
// ids, not phone numbers.
type MessengerClient struct {
	httpClient *resty.Client
	platform   string
}

// NewMessengerClient builds a Graph Send API client from channel config.
func NewMessengerClient(platform string, cfg config.ChannelConfig, timeout time.Duration) (*MessengerClient, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%s access token cannot be empty", platform)
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetQueryParam("access_token", cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &MessengerClient{httpClient: client, platform: platform}, nil
}

type messengerSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendText sends a free-form message. Messenger enforces its own messaging
// window server-side; outside it the call fails with a policy error that
// classifyStatus marks permanent.
func (c *MessengerClient) SendText(ctx context.Context, recipient, text string) (*SendResult, error) {
	body := map[string]interface{}{
		"recipient":      map[string]interface{}{"id": recipient},
		"messaging_type": "RESPONSE",
		"message":        map[string]interface{}{"text": text},
	}
	return c.send(ctx, "text", body)
}

// SendTemplate is not supported on the Messenger surface; Meta pages use
// message tags instead of templates. Callers fall back to plain text.
func (c *MessengerClient) SendTemplate(ctx context.Context, recipient, templateName, locale string, params []string) (*SendResult, error) {
	return nil, apperrors.NewFatal(
		fmt.Errorf("%w: template sends are not available on %s", apperrors.ErrProvider, c.platform),
		"unsupported send type")
}

// SendMedia sends an attachment by URL.
func (c *MessengerClient) SendMedia(ctx context.Context, recipient, mediaType, urlOrID, caption string) (*SendResult, error) {
	body := map[string]interface{}{
		"recipient":      map[string]interface{}{"id": recipient},
		"messaging_type": "RESPONSE",
		"message": map[string]interface{}{
			"attachment": map[string]interface{}{
				"type":    mediaType,
				"payload": map[string]interface{}{"url": urlOrID, "is_reusable": true},
			},
		},
	}
	return c.send(ctx, "media", body)
}

func (c *MessengerClient) send(ctx context.Context, kind string, body map[string]interface{}) (*SendResult, error) {
	var result messengerSendResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/me/messages")
	if err != nil {
		return nil, apperrors.NewRetryable(
			fmt.Errorf("%w: %w", apperrors.ErrProvider, err),
			"%s %s send request failed", c.platform, kind)
	}
	if resp.IsError() {
		logger.FromContext(ctx).Warn("Messenger send rejected",
			zap.String("platform", c.platform),
			zap.String("kind", kind),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}
	if result.MessageID == "" {
		return nil, apperrors.NewFatal(
			fmt.Errorf("%w: response carried no message id", apperrors.ErrProvider),
			"%s %s send returned empty result", c.platform, kind)
	}

	logger.FromContext(ctx).Debug("Messenger message sent",
		zap.String("platform", c.platform),
		zap.String("kind", kind),
		zap.String("provider_message_id", result.MessageID))
	return &SendResult{MessageID: result.MessageID}, nil
}
