package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// FindConversationByContactAndChannel resolves the single conversation for
// a contact+channel pair. Channel is stored lowercase so the lookup is
// case-insensitive by construction.
func (r *PostgresRepo) FindConversationByContactAndChannel(ctx context.Context, contactID string, channel model.Channel) (*model.Conversation, error) {
	var conversation model.Conversation

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("contact_id = ? AND channel = ?", contactID, model.NormalizeChannel(string(channel))).
			First(&conversation)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindConversationByContactAndChannel", operation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// FindConversationByID fetches a conversation by primary key.
func (r *PostgresRepo) FindConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conversation model.Conversation

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&conversation)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindConversationByID", operation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// SaveConversation inserts or updates a conversation. The unique
// (contact_id, channel) index guarantees a racing second insert for the
// same pair surfaces as apperrors.ErrDuplicate rather than a second row.
func (r *PostgresRepo) SaveConversation(ctx context.Context, conversation *model.Conversation) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}
	if conversation.WorkspaceID == "" {
		conversation.WorkspaceID = workspaceID
	}
	conversation.Channel = model.NormalizeChannel(string(conversation.Channel))
	conversation.UpdatedAt = utils.Now()

	operation := func() error {
		// Upsert on the primary key. A conflict on the (contact_id, channel)
		// unique index is NOT absorbed here: it surfaces as ErrDuplicate so
		// a racing second insert for the same pair loses cleanly.
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(conversation)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	if err := retryableOperation(ctx, commitPolicy, "SaveConversation Commit", operation); err != nil {
		logger.FromContext(ctx).Error("Failed to save conversation after retries",
			zap.String("conversation_id", conversation.ID), zap.Error(err))
		return err
	}
	return nil
}

// ResurrectConversation clears the soft-delete flag when a new inbound
// message arrives for a previously removed conversation.
func (r *PostgresRepo) ResurrectConversation(ctx context.Context, id string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ? AND is_deleted = true", id).
			Updates(map[string]interface{}{"is_deleted": false, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	return retryableOperation(ctx, commitPolicy, "ResurrectConversation", operation)
}

// RecordConversationInbound bumps last_message_at, last_inbound_at and the
// unread counter after an admitted inbound message.
func (r *PostgresRepo) RecordConversationInbound(ctx context.Context, id string, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"last_message_at": at,
				"last_inbound_at": at,
				"unread_count":    gorm.Expr("unread_count + 1"),
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	return retryableOperation(ctx, commitPolicy, "RecordConversationInbound", operation)
}
