package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// CreateFollowupTask records a human-facing task for a permanently failed
// job so the case does not vanish with the job's failed status.
func (r *PostgresRepo) CreateFollowupTask(ctx context.Context, task *model.FollowupTask) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}
	if task.WorkspaceID == "" {
		task.WorkspaceID = workspaceID
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Create(task)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	if err := retryableOperation(ctx, commitPolicy, "CreateFollowupTask Commit", operation); err != nil {
		logger.FromContext(ctx).Error("Failed to create followup task",
			zap.String("conversation_id", task.ConversationID),
			zap.String("reason", task.Reason), zap.Error(err))
		return err
	}
	return nil
}

// FindUnresolvedFollowupTasks lists open tasks for the debug surface.
func (r *PostgresRepo) FindUnresolvedFollowupTasks(ctx context.Context, limit int) ([]model.FollowupTask, error) {
	var tasks []model.FollowupTask

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("resolved = ?", false).
			Order("created_at ASC").
			Limit(limit).
			Find(&tasks)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindUnresolvedFollowupTasks", operation); err != nil {
		return nil, err
	}
	return tasks, nil
}
