package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// outboundLogTx is the ledger surface scoped to one open transaction. The
// sender drives the whole send inside it: ledger insert, provider call,
// outbound message row, conversation stamp. A provider failure rolls the
// ledger row back, so the ledger never records a send that did not happen.
type outboundLogTx struct {
	tx          *gorm.DB
	workspaceID string
}

// WithinOutboundTx opens a transaction and hands fn a tx-scoped ledger.
// fn returning an error rolls everything back.
func (r *PostgresRepo) WithinOutboundTx(ctx context.Context, fn func(txRepo OutboundLogTxRepo) error) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&outboundLogTx{tx: tx, workspaceID: workspaceID})
	})
	if txErr != nil && !apperrors.IsDuplicateError(txErr) && !apperrors.IsProviderError(txErr) {
		logger.FromContext(ctx).Error("Outbound send transaction rolled back", zap.Error(txErr))
	}
	return txErr
}

// Insert writes the ledger row. apperrors.ErrDuplicate here means another
// attempt already holds (or committed) this dedupe key: the caller must
// skip the send entirely.
func (t *outboundLogTx) Insert(log *model.OutboundMessageLog) error {
	if log.WorkspaceID == "" {
		log.WorkspaceID = t.workspaceID
	}
	if err := t.tx.Create(log).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// SetProviderMessageID records the provider's message id on the ledger row
// once the send succeeded.
func (t *outboundLogTx) SetProviderMessageID(dedupeKey, providerMessageID string) error {
	result := t.tx.Model(&model.OutboundMessageLog{}).
		Where("dedupe_key = ?", dedupeKey).
		Update("provider_message_id", providerMessageID)
	if result.Error != nil {
		return checkConstraintViolation(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: outbound ledger row %s", apperrors.ErrNotFound, dedupeKey)
	}
	return nil
}

// InsertOutboundMessage persists the sent message in the same transaction
// as its ledger row.
func (t *outboundLogTx) InsertOutboundMessage(message *model.Message) error {
	if message.WorkspaceID == "" {
		message.WorkspaceID = t.workspaceID
	}
	message.Direction = model.MessageDirectionOutbound
	if message.SentAt.IsZero() {
		message.SentAt = utils.Now()
	}
	if err := t.tx.Create(message).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// RecordConversationOutbound stamps the conversation's outbound timestamps
// inside the send transaction.
func (t *outboundLogTx) RecordConversationOutbound(conversationID string, at time.Time) error {
	result := t.tx.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_at":  at,
			"last_outbound_at": at,
			"updated_at":       utils.Now(),
		})
	if result.Error != nil {
		return checkConstraintViolation(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, conversationID)
	}
	return nil
}

// FindOutboundLogByKey fetches a ledger row by dedupe key.
func (r *PostgresRepo) FindOutboundLogByKey(ctx context.Context, dedupeKey string) (*model.OutboundMessageLog, error) {
	var log model.OutboundMessageLog

	operation := func() error {
		result := r.db.WithContext(ctx).Where("dedupe_key = ?", dedupeKey).First(&log)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindOutboundLogByKey", operation); err != nil {
		return nil, err
	}
	return &log, nil
}
