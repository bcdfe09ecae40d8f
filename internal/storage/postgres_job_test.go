package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

func TestPostgresRepo_EnqueueJob(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	job := &model.OutboundJob{
		ConversationID:           testConversationID,
		InboundMessageID:         42,
		InboundProviderMessageID: "wamid.test.1",
	}

	mock.ExpectQuery(`INSERT INTO "outbound_jobs"`).
		WithArgs(
			job.ConversationID, job.InboundMessageID, job.InboundProviderMessageID,
			testWorkspaceID, model.JobStatusQueued, 0, model.DefaultMaxAttempts,
			AnyTime{}, nil, nil, "", AnyTime{}, AnyTime{},
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := repo.EnqueueJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, model.DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, testWorkspaceID, job.WorkspaceID)
}

func TestPostgresRepo_EnqueueJob_DuplicateTrigger(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	job := &model.OutboundJob{
		ConversationID:   testConversationID,
		InboundMessageID: 42,
	}

	mock.ExpectQuery(`INSERT INTO "outbound_jobs"`).
		WillReturnError(uniqueViolation("uniq_outbound_jobs_trigger"))

	err := repo.EnqueueJob(ctx, job)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestPostgresRepo_ClaimDueJobs(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "conversation_id", "inbound_message_id", "status", "attempts", "max_attempts", "run_at"}).
		AddRow(int64(7), testConversationID, int64(42), model.JobStatusQueued, 0, 3, now.Add(-time.Minute)).
		AddRow(int64(8), testConversationID, int64(43), model.JobStatusQueued, 1, 3, now.Add(-time.Second))

	mock.ExpectBegin()
	// The batch cap is a third bind argument, LIMIT $3.
	mock.ExpectQuery(`SELECT \* FROM "outbound_jobs" WHERE status = \$1 AND run_at <= \$2 ORDER BY run_at ASC LIMIT \$3 FOR UPDATE SKIP LOCKED`).
		WithArgs(model.JobStatusQueued, now, 20).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE "outbound_jobs" SET .* WHERE id IN`).
		WithArgs(AnyTime{}, model.JobStatusRunning, AnyTime{}, int64(7), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	claimed, err := repo.ClaimDueJobs(ctx, now, 20)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	assert.Equal(t, model.JobStatusRunning, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)
	require.NotNil(t, claimed[0].StartedAt)
	assert.Equal(t, now, *claimed[0].StartedAt)
	assert.Equal(t, 2, claimed[1].Attempts)
}

func TestPostgresRepo_ClaimDueJobs_Empty(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "outbound_jobs" WHERE status = \$1 AND run_at <= \$2`).
		WithArgs(model.JobStatusQueued, now, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	claimed, err := repo.ClaimDueJobs(ctx, now, 20)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPostgresRepo_MarkJobDone(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()
	at := time.Now()

	mock.ExpectExec(`UPDATE "outbound_jobs" SET .* WHERE id = \$5`).
		WithArgs(at, "", model.JobStatusDone, AnyTime{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkJobDone(ctx, 7, at)
	assert.NoError(t, err)
}

func TestPostgresRepo_RequeueJob(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()
	runAt := time.Now().Add(4 * time.Second)

	mock.ExpectExec(`UPDATE "outbound_jobs" SET .* WHERE id = \$6`).
		WithArgs("provider timeout", runAt, nil, model.JobStatusQueued, AnyTime{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RequeueJob(ctx, 7, runAt, "provider timeout")
	assert.NoError(t, err)
}

func TestPostgresRepo_MarkJobFailed(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	mock.ExpectExec(`UPDATE "outbound_jobs" SET .* WHERE id = \$5`).
		WithArgs(AnyTime{}, "max attempts exhausted", model.JobStatusFailed, AnyTime{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkJobFailed(ctx, 7, "max attempts exhausted")
	assert.NoError(t, err)
}

func TestPostgresRepo_MarkJobDone_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	mock.ExpectExec(`UPDATE "outbound_jobs" SET .* WHERE id = \$5`).
		WithArgs(AnyTime{}, "", model.JobStatusDone, AnyTime{}, int64(999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkJobDone(ctx, 999, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresRepo_CountJobsByStatus(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(model.JobStatusQueued, 5).
		AddRow(model.JobStatusRunning, 1).
		AddRow(model.JobStatusFailed, 2)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS count FROM "outbound_jobs" GROUP BY "status"`).
		WillReturnRows(rows)

	counts, err := repo.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts.Queued)
	assert.Equal(t, int64(1), counts.Running)
	assert.Equal(t, int64(0), counts.Done)
	assert.Equal(t, int64(2), counts.Failed)
}

func TestPostgresRepo_FindStuckJobs(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()
	cutoff := time.Now().Add(-5 * time.Minute)

	started := cutoff.Add(-10 * time.Minute)
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "status", "started_at"}).
		AddRow(int64(3), testConversationID, model.JobStatusRunning, started)

	mock.ExpectQuery(`SELECT \* FROM "outbound_jobs" WHERE status = \$1 AND started_at < \$2 ORDER BY started_at ASC`).
		WithArgs(model.JobStatusRunning, cutoff).
		WillReturnRows(rows)

	jobs, err := repo.FindStuckJobs(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(3), jobs[0].ID)
}
