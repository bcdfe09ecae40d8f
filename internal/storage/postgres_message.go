package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// InsertInboundMessage inserts an inbound message together with its
// (channel, provider_message_id) dedup record inside one transaction.
//
// Two racing deliveries of the same webhook both reach this insert; the
// unique constraint, not application logic, breaks the tie. The loser
// gets apperrors.ErrDuplicate and must perform no further side effects.
func (r *PostgresRepo) InsertInboundMessage(ctx context.Context, message *model.Message) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}
	if message.WorkspaceID == "" {
		message.WorkspaceID = workspaceID
	}
	message.Direction = model.MessageDirectionInbound

	startTime := utils.Now()
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return checkConstraintViolation(err)
		}
		dedup := model.InboundDedup{
			Channel:           message.Channel,
			ProviderMessageID: message.ProviderMessageID,
			WorkspaceID:       message.WorkspaceID,
		}
		if err := tx.Create(&dedup).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	observer.ObserveDbOperationDuration("insert", "message", time.Since(startTime), txErr)

	if txErr != nil {
		if apperrors.IsDuplicateError(txErr) {
			// Expected under at-least-once delivery; not an error.
			logger.FromContext(ctx).Debug("Duplicate inbound message delivery",
				zap.String("provider_message_id", message.ProviderMessageID),
				zap.String("conversation_id", message.ConversationID))
			return txErr
		}
		logger.FromContext(ctx).Error("Failed to insert inbound message",
			zap.String("provider_message_id", message.ProviderMessageID),
			zap.Error(txErr))
		return txErr
	}
	return nil
}

// FindMessageByID fetches a message by its numeric primary key.
func (r *PostgresRepo) FindMessageByID(ctx context.Context, id int64) (*model.Message, error) {
	var message model.Message

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&message)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindMessageByID", operation); err != nil {
		return nil, err
	}
	return &message, nil
}

// UpdateMessageDeliveryStatus attaches a delivery-status event to an
// outbound message. Direction and content stay immutable.
func (r *PostgresRepo) UpdateMessageDeliveryStatus(ctx context.Context, providerMessageID, status string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("provider_message_id = ? AND direction = ?", providerMessageID, model.MessageDirectionOutbound).
			Select(model.MessageUpdatableFields()).
			Updates(map[string]interface{}{
				"delivery_status": status,
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: outbound message %s", apperrors.ErrNotFound, providerMessageID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	return retryableOperation(ctx, commitPolicy, "UpdateMessageDeliveryStatus", operation)
}
