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
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// EnqueueJob inserts one queued job for a triggering inbound message.
// The unique index on inbound_message_id makes the enqueue idempotent:
// re-processing the same inbound event yields apperrors.ErrDuplicate here.
func (r *PostgresRepo) EnqueueJob(ctx context.Context, job *model.OutboundJob) error {
	workspaceID, err := workspace.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get workspace ID: %w", apperrors.ErrUnauthorized, err)
	}
	if job.WorkspaceID == "" {
		job.WorkspaceID = workspaceID
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = model.DefaultMaxAttempts
	}
	if job.RunAt.IsZero() {
		job.RunAt = utils.Now()
	}

	startTime := utils.Now()
	operation := func() error {
		result := r.db.WithContext(ctx).Create(job)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err = retryableOperation(ctx, commitPolicy, "EnqueueJob Commit", operation)
	observer.ObserveDbOperationDuration("insert", "outbound_job", time.Since(startTime), err)
	if err != nil {
		if apperrors.IsDuplicateError(err) {
			logger.FromContext(ctx).Debug("Job already enqueued for inbound message",
				zap.Int64("inbound_message_id", job.InboundMessageID))
			return err
		}
		logger.FromContext(ctx).Error("Failed to enqueue outbound job",
			zap.String("conversation_id", job.ConversationID), zap.Error(err))
		return err
	}
	return nil
}

// ClaimDueJobs claims up to max due queued jobs in a single transaction:
// SELECT ... FOR UPDATE SKIP LOCKED picks rows no other runner holds, and
// the same transaction flips them to running with attempts incremented and
// started_at stamped. A crash between select and commit releases the row
// locks, so jobs are never stranded in queued-but-claimed limbo.
//
// Concurrent runners therefore partition the due set: no job is ever
// returned by two ClaimDueJobs calls at once.
func (r *PostgresRepo) ClaimDueJobs(ctx context.Context, now time.Time, max int) ([]model.OutboundJob, error) {
	var claimed []model.OutboundJob

	startTime := utils.Now()
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []model.OutboundJob
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_at <= ?", model.JobStatusQueued, now).
			Order("run_at ASC").
			Limit(max).
			Find(&due).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(due))
		for i := range due {
			ids = append(ids, due[i].ID)
		}
		startedAt := now
		if err := tx.Model(&model.OutboundJob{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.JobStatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": startedAt,
				"updated_at": utils.Now(),
			}).Error; err != nil {
			return checkConstraintViolation(err)
		}

		for i := range due {
			due[i].Status = model.JobStatusRunning
			due[i].Attempts++
			due[i].StartedAt = &startedAt
		}
		claimed = due
		return nil
	})
	observer.ObserveDbOperationDuration("claim", "outbound_job", time.Since(startTime), txErr)

	if txErr != nil {
		logger.FromContext(ctx).Error("Failed to claim due jobs", zap.Error(txErr))
		return nil, txErr
	}
	return claimed, nil
}

// MarkJobDone transitions a running job to done.
func (r *PostgresRepo) MarkJobDone(ctx context.Context, jobID int64, at time.Time) error {
	return r.transitionJob(ctx, "MarkJobDone", jobID, map[string]interface{}{
		"status":       model.JobStatusDone,
		"completed_at": at,
		"error":        "",
		"updated_at":   utils.Now(),
	})
}

// RequeueJob schedules a retry: the job goes back to queued with the next
// run_at and the last error recorded. Attempts stay as incremented at
// claim time, so the backoff schedule follows the attempt count.
func (r *PostgresRepo) RequeueJob(ctx context.Context, jobID int64, runAt time.Time, errMsg string) error {
	return r.transitionJob(ctx, "RequeueJob", jobID, map[string]interface{}{
		"status":     model.JobStatusQueued,
		"run_at":     runAt,
		"started_at": nil,
		"error":      errMsg,
		"updated_at": utils.Now(),
	})
}

// MarkJobFailed transitions a job to the terminal failed state.
func (r *PostgresRepo) MarkJobFailed(ctx context.Context, jobID int64, errMsg string) error {
	return r.transitionJob(ctx, "MarkJobFailed", jobID, map[string]interface{}{
		"status":       model.JobStatusFailed,
		"completed_at": utils.Now(),
		"error":        errMsg,
		"updated_at":   utils.Now(),
	})
}

func (r *PostgresRepo) transitionJob(ctx context.Context, name string, jobID int64, updates map[string]interface{}) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.OutboundJob{}).
			Where("id = ?", jobID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: outbound job %d", apperrors.ErrNotFound, jobID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	if err := retryableOperation(ctx, commitPolicy, name, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to transition outbound job",
			zap.String("transition", name), zap.Int64("job_id", jobID), zap.Error(err))
		return err
	}
	return nil
}

// CountJobsByStatus summarizes the queue for the debug surface.
func (r *PostgresRepo) CountJobsByStatus(ctx context.Context) (*model.JobStatusCounts, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.OutboundJob{}).
			Select("status, COUNT(*) AS count").
			Group("status").
			Scan(&rows)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "CountJobsByStatus", operation); err != nil {
		return nil, err
	}

	counts := &model.JobStatusCounts{}
	for _, r := range rows {
		switch r.Status {
		case model.JobStatusQueued:
			counts.Queued = r.Count
		case model.JobStatusRunning:
			counts.Running = r.Count
		case model.JobStatusDone:
			counts.Done = r.Count
		case model.JobStatusFailed:
			counts.Failed = r.Count
		}
	}
	return counts, nil
}

// FindStuckJobs lists jobs that have sat in running since before olderThan.
// They usually mean a runner died mid-attempt. They are surfaced for the
// operator, never auto-requeued: the send may have gone out before the
// crash, and a blind requeue would risk a duplicate message.
func (r *PostgresRepo) FindStuckJobs(ctx context.Context, olderThan time.Time) ([]model.OutboundJob, error) {
	var jobs []model.OutboundJob

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND started_at < ?", model.JobStatusRunning, olderThan).
			Order("started_at ASC").
			Find(&jobs)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, readPolicy, "FindStuckJobs", operation); err != nil {
		return nil, err
	}
	return jobs, nil
}
