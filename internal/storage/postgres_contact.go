package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// SaveContact inserts or updates a contact.
func (r *PostgresRepo) SaveContact(ctx context.Context, contact *model.Contact) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}
	if contact.WorkspaceID == "" {
		contact.WorkspaceID = workspaceID
	}

	contact.UpdatedAt = utils.Now()

	operation := func() error {
		// Upsert on the primary key. Conflicts on the partial phone or
		// provider-user unique indexes still surface as ErrDuplicate.
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(contact)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	if err := retryableOperation(ctx, commitPolicy, "SaveContact Commit", operation); err != nil {
		logger.FromContext(ctx).Error("Failed to save contact after retries",
			zap.String("contact_id", contact.ID), zap.Error(err))
		return err
	}
	return nil
}

// FindContactByID fetches a contact by primary key.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	var contact model.Contact

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&contact)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindContactByID", operation); err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindContactByPhone matches a contact by its normalized E.164 phone,
// skipping tombstoned merge losers.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	var contact model.Contact

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("phone = ? AND merged_into_id = ''", phone).
			First(&contact)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindContactByPhone", operation); err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindContactByProviderUserID matches a contact by the provider user id of
// a non-phone channel (Instagram, Facebook).
func (r *PostgresRepo) FindContactByProviderUserID(ctx context.Context, channel model.Channel, providerUserID string) (*model.Contact, error) {
	var contact model.Contact

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("channel = ? AND provider_user_id = ? AND merged_into_id = ''", channel, providerUserID).
			First(&contact)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindContactByProviderUserID", operation); err != nil {
		return nil, err
	}
	return &contact, nil
}

// MergeContacts re-points all foreign keys (leads, conversations, messages,
// jobs, tasks) from the duplicate contact to the canonical one inside a
// single transaction, then tombstones the duplicate. The canonical contact
// is expected to be the oldest row; the caller decides which is which.
//
// When both contacts hold a conversation on the same channel, re-pointing
// the duplicate's row would violate the (contact_id, channel) uniqueness,
// so that conversation is folded instead: its messages and jobs move to
// the canonical conversation and the emptied row is soft-deleted.
func (r *PostgresRepo) MergeContacts(ctx context.Context, canonicalID, duplicateID string) error {
	if canonicalID == duplicateID {
		return fmt.Errorf("%w: cannot merge a contact into itself", apperrors.ErrBadRequest)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var canonical, duplicate model.Contact
		if err := tx.Where("id = ?", canonicalID).First(&canonical).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := tx.Where("id = ?", duplicateID).First(&duplicate).Error; err != nil {
			return checkConstraintViolation(err)
		}

		var dupConversations []model.Conversation
		if err := tx.Where("contact_id = ?", duplicateID).Find(&dupConversations).Error; err != nil {
			return checkConstraintViolation(err)
		}
		for i := range dupConversations {
			if err := r.mergeConversation(tx, canonicalID, &dupConversations[i]); err != nil {
				return err
			}
		}

		for _, step := range []struct {
			table  string
			column string
		}{
			{"leads", "contact_id"},
			{"messages", "contact_id"},
			{"followup_tasks", "contact_id"},
		} {
			if err := tx.Table(step.table).
				Where(step.column+" = ?", duplicateID).
				Update(step.column, canonicalID).Error; err != nil {
				return checkConstraintViolation(err)
			}
		}

		// Tombstone the loser; keep the row for auditability.
		if err := tx.Model(&model.Contact{}).
			Where("id = ?", duplicateID).
			Update("merged_into_id", canonicalID).Error; err != nil {
			return checkConstraintViolation(err)
		}

		// Backfill identity fields the canonical contact is missing.
		updates := map[string]interface{}{}
		if canonical.Phone == "" && duplicate.Phone != "" {
			updates["phone"] = duplicate.Phone
		}
		if canonical.ProviderUserID == "" && duplicate.ProviderUserID != "" {
			updates["provider_user_id"] = duplicate.ProviderUserID
			updates["channel"] = duplicate.Channel
		}
		if len(updates) > 0 {
			if err := tx.Model(&model.Contact{}).
				Where("id = ?", canonicalID).
				Updates(updates).Error; err != nil {
				return checkConstraintViolation(err)
			}
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("Failed to merge contacts",
			zap.String("canonical_id", canonicalID),
			zap.String("duplicate_id", duplicateID),
			zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("Merged duplicate contact",
		zap.String("canonical_id", canonicalID),
		zap.String("duplicate_id", duplicateID))
	return nil
}

// mergeConversation moves one of the duplicate contact's conversations to
// the canonical contact. If the canonical contact already holds a
// conversation on that channel, the duplicate's messages and jobs are
// re-parented into it and the emptied conversation is soft-deleted.
func (r *PostgresRepo) mergeConversation(tx *gorm.DB, canonicalID string, dup *model.Conversation) error {
	var surviving model.Conversation
	err := tx.Where("contact_id = ? AND channel = ?", canonicalID, dup.Channel).
		First(&surviving).Error
	if err != nil {
		if checked := checkConstraintViolation(err); !apperrors.IsNotFoundError(checked) {
			return checked
		}
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", dup.ID).
			Update("contact_id", canonicalID).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	if err := tx.Table("messages").
		Where("conversation_id = ?", dup.ID).
		Update("conversation_id", surviving.ID).Error; err != nil {
		return checkConstraintViolation(err)
	}
	if err := tx.Table("outbound_jobs").
		Where("conversation_id = ?", dup.ID).
		Update("conversation_id", surviving.ID).Error; err != nil {
		return checkConstraintViolation(err)
	}
	if err := tx.Model(&model.Conversation{}).
		Where("id = ?", dup.ID).
		Update("is_deleted", true).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// SaveLead inserts or updates a lead.
func (r *PostgresRepo) SaveLead(ctx context.Context, lead *model.Lead) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}
	if lead.WorkspaceID == "" {
		lead.WorkspaceID = workspaceID
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	return retryableOperation(ctx, commitPolicy, "SaveLead Commit", operation)
}

// FindLatestLeadByContactID returns the most recent lead for a contact.
func (r *PostgresRepo) FindLatestLeadByContactID(ctx context.Context, contactID string) (*model.Lead, error) {
	var lead model.Lead

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("contact_id = ?", contactID).
			Order("created_at DESC").
			First(&lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindLatestLeadByContactID", operation); err != nil {
		return nil, err
	}
	return &lead, nil
}
