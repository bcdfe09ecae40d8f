// Package channel talks to the messaging providers. Each channel gets a
// thin resty client that normalizes provider responses into SendResult and
// classifies failures into retryable and permanent buckets.
package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

// SendResult carries what the pipeline needs back from a provider call.
type SendResult struct {
	MessageID string
}

// Sender is the outbound surface of one channel. The recipient is an E.164
// phone for phone-based channels and a provider user id for Instagram and
// Facebook.
type Sender interface {
	SendText(ctx context.Context, recipient, text string) (*SendResult, error)
	SendTemplate(ctx context.Context, recipient, templateName, locale string, params []string) (*SendResult, error)
	SendMedia(ctx context.Context, recipient, mediaType, urlOrID, caption string) (*SendResult, error)
}

// Senders resolves the Sender for a channel.
type Senders map[model.Channel]Sender

// For returns the sender for a channel, or an error if none is configured.
func (s Senders) For(channel model.Channel) (Sender, error) {
	sender, ok := s[model.NormalizeChannel(string(channel))]
	if !ok {
		return nil, fmt.Errorf("%w: no sender configured for channel %s", apperrors.ErrBadRequest, channel)
	}
	return sender, nil
}

// classifyStatus maps a provider HTTP status to the pipeline's error
// taxonomy. Rate limits and provider-side failures are worth retrying;
// everything else in the 4xx range means the request itself is wrong and
// retrying cannot help.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.NewRetryable(
			fmt.Errorf("%w: %w: status %d: %s", apperrors.ErrProvider, apperrors.ErrRateLimited, status, body),
			"provider rate limited")
	case status >= http.StatusInternalServerError:
		return apperrors.NewRetryable(
			fmt.Errorf("%w: status %d: %s", apperrors.ErrProvider, status, body),
			"provider unavailable")
	default:
		return apperrors.NewFatal(
			fmt.Errorf("%w: status %d: %s", apperrors.ErrProvider, status, body),
			"provider rejected request")
	}
}
