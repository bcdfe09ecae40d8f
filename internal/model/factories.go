package model

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewContact creates a Contact instance with default fake data.
func NewContact(overrides ...func(*Contact)) *Contact {
	c := &Contact{
		ID:          gofakeit.UUID(),
		Phone:       "+9715" + gofakeit.DigitN(8),
		Name:        gofakeit.Name(),
		Channel:     ChannelWhatsApp,
		WorkspaceID: "ws_" + gofakeit.LetterN(8),
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:   utils.Now(),
	}
	for _, o := range overrides {
		o(c)
	}
	return c
}

// NewConversation creates a Conversation instance with default fake data.
func NewConversation(overrides ...func(*Conversation)) *Conversation {
	now := utils.Now()
	conv := &Conversation{
		ID:            gofakeit.UUID(),
		ContactID:     gofakeit.UUID(),
		Channel:       ChannelWhatsApp,
		WorkspaceID:   "ws_" + gofakeit.LetterN(8),
		LastMessageAt: &now,
		LastInboundAt: &now,
		CreatedAt:     now.Add(-time.Duration(gofakeit.Number(1, 72)) * time.Hour),
		UpdatedAt:     now,
	}
	for _, o := range overrides {
		o(conv)
	}
	return conv
}

// NewCanonicalEvent creates a CanonicalEvent instance with default fake data.
func NewCanonicalEvent(overrides ...func(*CanonicalEvent)) *CanonicalEvent {
	ev := &CanonicalEvent{
		Channel:           ChannelWhatsApp,
		SenderID:          "9715" + gofakeit.DigitN(8),
		Phone:             "+9715" + gofakeit.DigitN(8),
		ProfileName:       gofakeit.Name(),
		ProviderMessageID: fmt.Sprintf("wamid.%s", gofakeit.LetterN(22)),
		Text:              gofakeit.Sentence(6),
		Timestamp:         utils.Now(),
	}
	for _, o := range overrides {
		o(ev)
	}
	return ev
}

// NewOutboundJob creates a queued OutboundJob instance with default fake data.
func NewOutboundJob(overrides ...func(*OutboundJob)) *OutboundJob {
	j := &OutboundJob{
		ID:                       int64(gofakeit.Number(1, 1_000_000)),
		ConversationID:           gofakeit.UUID(),
		InboundMessageID:         int64(gofakeit.Number(1, 1_000_000)),
		InboundProviderMessageID: fmt.Sprintf("wamid.%s", gofakeit.LetterN(22)),
		WorkspaceID:              "ws_" + gofakeit.LetterN(8),
		Status:                   JobStatusQueued,
		MaxAttempts:              DefaultMaxAttempts,
		RunAt:                    utils.Now(),
		CreatedAt:                utils.Now(),
		UpdatedAt:                utils.Now(),
	}
	for _, o := range overrides {
		o(j)
	}
	return j
}
