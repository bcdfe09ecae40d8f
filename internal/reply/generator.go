// Package reply calls the external reply-generation service. The service
// itself is an opaque collaborator: it receives conversation context and
// returns the text to send plus how that reply should be deduplicated.
package reply

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// Request is the conversation context handed to the generator.
type Request struct {
	ConversationID string          `json:"conversation_id"`
	ContactName    string          `json:"contact_name,omitempty"`
	Channel        model.Channel   `json:"channel"`
	InboundText    string          `json:"inbound_text"`
	Language       string          `json:"language,omitempty"`
	LeadSource     string          `json:"lead_source,omitempty"`
	LeadStatus     string          `json:"lead_status,omitempty"`
	History        []model.Message `json:"history,omitempty"`
}

// Reply is what the generator decided to say. ReplyType and QuestionKey
// drive the dedupe-key derivation: flow replies are deduped per question
// per day, direct replies per triggering message.
type Reply struct {
	Text        string `json:"text"`
	ReplyType   string `json:"reply_type"`
	QuestionKey string `json:"question_key,omitempty"`
	Skip        bool   `json:"skip,omitempty"`
}

// Generator produces a reply for one inbound message.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// HTTPGenerator talks to the reply service over HTTP.
type HTTPGenerator struct {
	httpClient *resty.Client
}

// NewHTTPGenerator builds a generator client.
func NewHTTPGenerator(baseURL, token string, timeout time.Duration) (*HTTPGenerator, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("reply generator URL cannot be empty")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}

	return &HTTPGenerator{httpClient: client}, nil
}

// Generate asks the reply service for the next thing to say. Failures are
// retryable: the generator being down is transient, and the job queue's
// backoff absorbs it.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	var reply Reply

	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&reply).
		Post("/v1/replies")
	if err != nil {
		return nil, apperrors.NewRetryable(err, "reply generator request failed")
	}
	if resp.IsError() {
		logger.FromContext(ctx).Warn("Reply generator returned error",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
			return nil, apperrors.NewRetryable(
				fmt.Errorf("reply generator status %d: %s", resp.StatusCode(), resp.String()),
				"reply generator unavailable")
		}
		return nil, apperrors.NewFatal(
			fmt.Errorf("reply generator status %d: %s", resp.StatusCode(), resp.String()),
			"reply generator rejected request")
	}

	if reply.ReplyType == "" {
		reply.ReplyType = model.ReplyTypeDirect
	}
	return &reply, nil
}
