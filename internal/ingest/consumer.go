package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/jetstream"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// DeadLetterSubject receives envelopes that could not be processed and
// must not be redelivered. They are kept for operator inspection only.
const DeadLetterSubject = "v1.webhook.dlq"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck        AckNakAction = iota // processed successfully, ACK it
	ActionNak                            // dead-letter publish failed, NAK immediately
	ActionNakDelay                       // retryable error, NAK with calculated delay
	ActionDeadLetter                     // max retries reached or fatal error, publish to DLQ then ACK
)

// DeadLetterEnvelope is what lands on the dead letter subject.
type DeadLetterEnvelope struct {
	SourceSubject   string          `json:"source_subject"`
	WorkspaceID     string          `json:"workspace_id,omitempty"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"`
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	Timestamp       time.Time       `json:"timestamp"`
}

// WebhookConsumer subscribes to the webhook stream and feeds envelopes
// through the router. One consumer per process; the durable queue group
// partitions the stream across replicas.
type WebhookConsumer struct {
	client      jetstream.ClientInterface
	router      *Router
	cfg         config.ConsumerNatsConfig
	workspaceID string
	ctx         context.Context
	cancel      context.CancelFunc
	sub         *nats.Subscription
}

// NewWebhookConsumer creates the webhook stream consumer.
func NewWebhookConsumer(client jetstream.ClientInterface, router *Router, cfg config.ConsumerNatsConfig, workspaceID string) *WebhookConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.Log.With(zap.String("workspace_id", workspaceID))
	ctx = logger.WithLogger(ctx, log)
	ctx = workspace.WithWorkspaceID(ctx, workspaceID)

	return &WebhookConsumer{
		client:      client,
		router:      router,
		cfg:         cfg,
		workspaceID: workspaceID,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Setup ensures the webhook stream and its durable consumer exist.
func (c *WebhookConsumer) Setup() error {
	log := logger.FromContext(c.ctx)

	maxAgeRetention := time.Duration(c.cfg.MaxAge*24) * time.Hour
	streamSubjects := append([]string{}, c.cfg.SubjectList...)
	streamSubjects = append(streamSubjects, DeadLetterSubject)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAgeRetention,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup webhook stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup webhook stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup webhook consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup webhook consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("Webhook consumer setup complete",
		zap.String("stream", c.cfg.Stream),
		zap.String("consumer", c.cfg.Consumer),
		zap.Any("subjects", c.cfg.SubjectList))
	return nil
}

// Start subscribes to the webhook subjects.
func (c *WebhookConsumer) Start() error {
	log := logger.FromContext(c.ctx)

	sub, err := c.client.Subscribe("v1.webhook.>", c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe webhook consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe webhook consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("Webhook consumer subscribed")
	return nil
}

// Stop drains the subscription and cancels the consumer context.
func (c *WebhookConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining webhook subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("Webhook consumer stopped")
}

// determineAckNakAction decides the fate of a message based on processing
// result and delivery metadata.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionDeadLetter, 0
	}

	// Retryable with attempts remaining: exponential NAK delay.
	attempt := numDelivered
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// handleMessage is the per-message entry point off the subscription.
func (c *WebhookConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	eventType, _ := model.MapToBaseEventType(msg.Subject)

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), time.Since(startTime))
		if r := recover(); r != nil {
			log := logger.FromContext(c.ctx)
			log.Error("Recovered from panic in webhook message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(eventType))
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	msgCtx := c.ctx
	log := logger.FromContext(msgCtx)

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get("Nats-Msg-Id")
	}

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	internalMetadata := &model.MessageMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		WorkspaceID:      c.workspaceID,
	}

	observer.IncEventsReceived(string(eventType))
	msgCtx = logger.WithLogger(msgCtx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.String("subject", msg.Subject),
	))

	processingErr := c.router.Route(msgCtx, internalMetadata, msg.Data)

	enhancedLog := logger.FromContext(msgCtx)
	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)

	switch action {
	case ActionAck:
		enhancedLog.Info("Successfully processed webhook message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType))
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing webhook message with delay for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncEventsFailed(string(eventType))
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDeadLetter, ActionNak:
		c.deadLetter(msgCtx, msg, metadata, eventType, processingErr)
	}
}

// deadLetter publishes the failed envelope to the dead letter subject and
// ACKs the original only when the publish succeeded.
func (c *WebhookConsumer) deadLetter(ctx context.Context, msg *nats.Msg, metadata *nats.MsgMetadata, eventType model.EventType, processingErr error) {
	log := logger.FromContext(ctx)

	errorType := "fatal"
	if apperrors.IsRetryable(processingErr) {
		errorType = "retryable"
	}
	log.Warn("Sending webhook message to dead letter subject",
		zap.Error(processingErr),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
		zap.String("error_type", errorType),
	)
	observer.IncEventsFailed(string(eventType))

	dead := DeadLetterEnvelope{
		SourceSubject:   msg.Subject,
		WorkspaceID:     c.workspaceID,
		OriginalPayload: json.RawMessage(msg.Data),
		Error:           processingErr.Error(),
		ErrorType:       errorType,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       time.Now().UTC(),
	}
	deadData, marshalErr := json.Marshal(dead)
	if marshalErr != nil {
		log.Error("Failed to marshal dead letter envelope, NAKing original", zap.Error(marshalErr))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after dead letter marshal error", zap.Error(nakErr))
		}
		return
	}

	if publishErr := c.client.Publish(DeadLetterSubject, deadData, nil); publishErr != nil {
		log.Error("Failed to publish dead letter envelope, NAKing original", zap.Error(publishErr))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after dead letter publish error", zap.Error(nakErr))
		}
		return
	}

	observer.IncEventsDeadLettered(string(eventType))
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after dead letter publish", zap.Error(ackErr))
	}
}
