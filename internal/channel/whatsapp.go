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

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppClient sends messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	httpClient *resty.Client
	phoneID    string
}

// NewWhatsAppClient builds a Cloud API client from channel config.
func NewWhatsAppClient(cfg config.ChannelConfig, timeout time.Duration) (*WhatsAppClient, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp access token cannot be empty")
	}
	if cfg.PhoneID == "" {
		return nil, fmt.Errorf("whatsapp phone id cannot be empty")
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &WhatsAppClient{httpClient: client, phoneID: cfg.PhoneID}, nil
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a free-form text message. The caller is responsible for
// checking the 24h messaging window first; outside it the provider rejects
// free-form sends and only SendTemplate works.
func (c *WhatsAppClient) SendText(ctx context.Context, recipient, text string) (*SendResult, error) {
	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]interface{}{"body": text, "preview_url": false},
	}
	return c.send(ctx, "text", body)
}

// SendTemplate sends a pre-approved template message.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, recipient, templateName, locale string, params []string) (*SendResult, error) {
	components := []map[string]interface{}{}
	if len(params) > 0 {
		parameters := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			parameters = append(parameters, map[string]interface{}{"type": "text", "text": p})
		}
		components = append(components, map[string]interface{}{
			"type":       "body",
			"parameters": parameters,
		})
	}

	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "template",
		"template": map[string]interface{}{
			"name":       templateName,
			"language":   map[string]interface{}{"code": locale},
			"components": components,
		},
	}
	return c.send(ctx, "template", body)
}

// SendMedia sends an image, video, audio or document by link or by
// previously uploaded media id.
func (c *WhatsAppClient) SendMedia(ctx context.Context, recipient, mediaType, urlOrID, caption string) (*SendResult, error) {
	media := map[string]interface{}{}
	if len(urlOrID) > 4 && urlOrID[:4] == "http" {
		media["link"] = urlOrID
	} else {
		media["id"] = urlOrID
	}
	if caption != "" {
		media["caption"] = caption
	}

	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              mediaType,
		mediaType:           media,
	}
	return c.send(ctx, "media", body)
}

func (c *WhatsAppClient) send(ctx context.Context, kind string, body map[string]interface{}) (*SendResult, error) {
	var result whatsAppSendResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(fmt.Sprintf("/%s/messages", c.phoneID))
	if err != nil {
		return nil, apperrors.NewRetryable(
			fmt.Errorf("%w: %w", apperrors.ErrProvider, err),
			"whatsapp %s send request failed", kind)
	}
	if resp.IsError() {
		logger.FromContext(ctx).Warn("WhatsApp send rejected",
			zap.String("kind", kind),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}
	if len(result.Messages) == 0 {
		return nil, apperrors.NewFatal(
			fmt.Errorf("%w: response carried no message id", apperrors.ErrProvider),
			"whatsapp %s send returned empty result", kind)
	}

	logger.FromContext(ctx).Debug("WhatsApp message sent",
		zap.String("kind", kind),
		zap.String("provider_message_id", result.Messages[0].ID))
	return &SendResult{MessageID: result.Messages[0].ID}, nil
}
