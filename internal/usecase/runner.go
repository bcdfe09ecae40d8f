package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/reply"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// RunReport summarizes one runner invocation for the scheduler endpoint.
type RunReport struct {
	Processed int     `json:"processed"`
	Failed    int     `json:"failed"`
	JobIDs    []int64 `json:"jobIds"`
}

// jobTask is what one pool worker receives.
type jobTask struct {
	ctx  context.Context
	job  model.OutboundJob
	wg   *sync.WaitGroup
	fail func()
}

// JobRunner drives claimed outbound jobs through the state machine:
// queued -> running -> {done | queued(retry) | failed}. Runner invocations
// are stateless and safe to overlap; the SKIP LOCKED claim partitions the
// queue between them.
type JobRunner struct {
	jobRepo          storage.JobRepo
	conversationRepo storage.ConversationRepo
	messageRepo      storage.MessageRepo
	contactRepo      storage.ContactRepo
	leadRepo         storage.LeadRepo
	taskRepo         storage.TaskRepo
	generator        reply.Generator
	sender           *OutboundSender
	cfg              *config.Config
	pool             *ants.PoolWithFunc
	baseLogger       *zap.Logger
	now              func() time.Time
}

// NewJobRunner creates the runner and its worker pool.
func NewJobRunner(
	jobRepo storage.JobRepo,
	conversationRepo storage.ConversationRepo,
	messageRepo storage.MessageRepo,
	contactRepo storage.ContactRepo,
	leadRepo storage.LeadRepo,
	taskRepo storage.TaskRepo,
	generator reply.Generator,
	sender *OutboundSender,
	cfg *config.Config,
	baseLogger *zap.Logger,
) (*JobRunner, error) {
	runner := &JobRunner{
		jobRepo:          jobRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		contactRepo:      contactRepo,
		leadRepo:         leadRepo,
		taskRepo:         taskRepo,
		generator:        generator,
		sender:           sender,
		cfg:              cfg,
		baseLogger:       baseLogger.Named("job_runner"),
		now:              time.Now,
	}

	poolSize := cfg.WorkerPools.Runner.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := ants.NewPoolWithFunc(poolSize, func(i interface{}) {
		task, ok := i.(jobTask)
		if !ok {
			runner.baseLogger.Error("Invalid task type received by runner pool", zap.Any("data", i))
			return
		}
		defer task.wg.Done()
		if err := runner.processJob(task.ctx, task.job); err != nil {
			task.fail()
		}
	},
		ants.WithExpiryDuration(cfg.WorkerPools.Runner.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.WorkerPools.Runner.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			runner.baseLogger.Error("Panic recovered in runner worker",
				zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner worker pool: %w", err)
	}
	runner.pool = pool
	return runner, nil
}

// Stop releases the worker pool.
func (r *JobRunner) Stop() {
	if r.pool != nil {
		r.pool.Release()
	}
}

// RunOnce claims up to max due jobs and processes them concurrently on the
// worker pool. It returns when every claimed job has reached a state
// transition, so the scheduler endpoint reports a complete batch.
func (r *JobRunner) RunOnce(ctx context.Context, max int) (*RunReport, error) {
	if max <= 0 || max > r.cfg.Runner.MaxBatch {
		max = r.cfg.Runner.MaxBatch
	}

	claimed, err := r.jobRepo.ClaimDue(ctx, r.now(), max)
	if err != nil {
		return nil, fmt.Errorf("claiming due jobs: %w", err)
	}
	if len(claimed) == 0 {
		return &RunReport{JobIDs: []int64{}}, nil
	}

	report := &RunReport{JobIDs: make([]int64, 0, len(claimed))}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, job := range claimed {
		report.JobIDs = append(report.JobIDs, job.ID)
		wg.Add(1)
		task := jobTask{
			ctx: ctx,
			job: job,
			wg:  &wg,
			fail: func() {
				mu.Lock()
				report.Failed++
				mu.Unlock()
			},
		}
		if err := r.pool.Invoke(task); err != nil {
			wg.Done()
			mu.Lock()
			report.Failed++
			mu.Unlock()
			r.baseLogger.Warn("Failed to submit job to runner pool",
				zap.Int64("job_id", job.ID), zap.Error(err))
		}
	}
	wg.Wait()

	report.Processed = len(claimed) - report.Failed
	observer.ObserveRunnerBatch(len(claimed), report.Failed)
	return report, nil
}

// processJob runs the per-job state machine. A returned error means the
// job's attempt failed (the job itself was already transitioned to queued
// or failed); nil means done, including benign skips.
func (r *JobRunner) processJob(ctx context.Context, job model.OutboundJob) error {
	log := logger.FromContext(ctx).With(
		zap.Int64("job_id", job.ID),
		zap.String("conversation_id", job.ConversationID),
		zap.Int("attempt", job.Attempts))

	conversation, err := r.conversationRepo.FindByID(ctx, job.ConversationID)
	if err != nil {
		return r.handleFailure(ctx, job, fmt.Errorf("loading conversation: %w", err))
	}

	// A human claiming the conversation after enqueue turns the job into a
	// skip, not a failure.
	if conversation.HumanAssigned() {
		log.Info("Job skipped: conversation assigned to a human")
		observer.IncJobsSkipped("human_assigned")
		return r.markDone(ctx, job)
	}

	message, err := r.messageRepo.FindByID(ctx, job.InboundMessageID)
	if err != nil {
		return r.handleFailure(ctx, job, fmt.Errorf("loading trigger message: %w", err))
	}
	contact, err := r.contactRepo.FindByID(ctx, conversation.ContactID)
	if err != nil {
		return r.handleFailure(ctx, job, fmt.Errorf("loading contact: %w", err))
	}

	request := reply.Request{
		ConversationID: conversation.ID,
		ContactName:    contact.Name,
		Channel:        conversation.Channel,
		InboundText:    message.Text,
		Language:       r.cfg.Reply.Language,
	}
	if lead, leadErr := r.leadRepo.FindLatestByContactID(ctx, contact.ID); leadErr == nil {
		request.LeadSource = lead.Source
		request.LeadStatus = lead.Status
	}

	generated, err := r.generator.Generate(ctx, request)
	if err != nil {
		return r.handleFailure(ctx, job, fmt.Errorf("generating reply: %w", err))
	}
	if generated.Skip || generated.Text == "" {
		// "No reply warranted" is a decision, not an error.
		log.Info("Job skipped: generator produced no reply")
		observer.IncJobsSkipped("empty_reply")
		return r.markDone(ctx, job)
	}

	input := SendInput{
		ConversationID:           conversation.ID,
		ContactID:                contact.ID,
		Channel:                  conversation.Channel,
		Text:                     generated.Text,
		TriggerProviderMessageID: job.InboundProviderMessageID,
		ReplyType:                generated.ReplyType,
		QuestionKey:              generated.QuestionKey,
		Kind:                     SendKindText,
	}

	if conversation.Channel.IsPhoneBased() {
		phone, normErr := utils.NormalizePhone(contact.Phone)
		if normErr != nil {
			// Unfixable input: fail immediately, no retry, open a task so
			// a human picks the case up.
			return r.failWithTask(ctx, job, conversation, contact,
				fmt.Sprintf("phone %q did not normalize to E.164: %v", contact.Phone, normErr))
		}
		input.Recipient = phone

		if !conversation.WithinWindow(r.now(), r.cfg.Runner.GenerateWindow) {
			channelCfg := r.cfg.ChannelFor(string(conversation.Channel))
			if channelCfg == nil || channelCfg.Template == "" {
				log.Warn("Job skipped: outside messaging window and no template configured")
				observer.IncJobsSkipped("window_closed")
				return r.markDone(ctx, job)
			}
			input.Kind = SendKindTemplate
			input.TemplateName = channelCfg.Template
			input.TemplateLocale = channelCfg.Locale
			input.TemplateParams = []string{contact.Name}
		}
	} else {
		input.Recipient = contact.ProviderUserID
	}

	outcome, err := r.sender.Send(ctx, input)
	if err != nil {
		return r.handleFailure(ctx, job, fmt.Errorf("sending reply: %w", err))
	}
	if outcome.WasDuplicate {
		log.Info("Job done: reply already sent by another attempt")
	} else {
		log.Info("Job done: reply sent",
			zap.String("provider_message_id", outcome.ProviderMessageID))
	}
	return r.markDone(ctx, job)
}

func (r *JobRunner) markDone(ctx context.Context, job model.OutboundJob) error {
	if err := r.jobRepo.MarkDone(ctx, job.ID, r.now()); err != nil {
		logger.FromContext(ctx).Error("Failed to mark job done",
			zap.Int64("job_id", job.ID), zap.Error(err))
		return err
	}
	observer.IncJobsCompleted(model.JobStatusDone)
	return nil
}

// handleFailure drives the retry/backoff half of the state machine.
// Permanent data and fatal provider errors fail immediately; everything
// else retries with exponential backoff until attempts reach the bound.
func (r *JobRunner) handleFailure(ctx context.Context, job model.OutboundJob, cause error) error {
	log := logger.FromContext(ctx).With(zap.Int64("job_id", job.ID), zap.Error(cause))

	if apperrors.IsPermanentDataError(cause) || apperrors.IsFatal(cause) {
		log.Warn("Job failed permanently")
		if err := r.jobRepo.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
			log.Error("Failed to mark job failed", zap.Error(err))
		}
		observer.IncJobsCompleted(model.JobStatusFailed)
		return cause
	}

	if job.Attempts < job.MaxAttempts {
		runAt := model.NextRunAt(r.now(), job.Attempts)
		log.Warn("Job attempt failed, requeued with backoff",
			zap.Time("run_at", runAt),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts))
		if err := r.jobRepo.Requeue(ctx, job.ID, runAt, cause.Error()); err != nil {
			log.Error("Failed to requeue job", zap.Error(err))
		}
		observer.IncJobsRetried()
		return cause
	}

	log.Warn("Job failed: attempts exhausted")
	if err := r.jobRepo.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		log.Error("Failed to mark job failed", zap.Error(err))
	}
	observer.IncJobsCompleted(model.JobStatusFailed)
	return cause
}

// failWithTask fails a job on unfixable input and opens exactly one
// human-facing followup task for it.
func (r *JobRunner) failWithTask(ctx context.Context, job model.OutboundJob, conversation *model.Conversation, contact *model.Contact, reason string) error {
	log := logger.FromContext(ctx).With(zap.Int64("job_id", job.ID))
	log.Warn("Job failed on permanent data problem", zap.String("reason", reason))

	if err := r.jobRepo.MarkFailed(ctx, job.ID, reason); err != nil {
		log.Error("Failed to mark job failed", zap.Error(err))
		return err
	}
	observer.IncJobsCompleted(model.JobStatusFailed)

	task := &model.FollowupTask{
		ConversationID: conversation.ID,
		ContactID:      contact.ID,
		JobID:          job.ID,
		Reason:         reason,
	}
	if err := r.taskRepo.Create(ctx, task); err != nil {
		log.Error("Failed to create followup task", zap.Error(err))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrPermanentData, reason)
}

// FindStuck surfaces jobs sitting in running past the staleness threshold.
// They are reported, never auto-requeued.
func (r *JobRunner) FindStuck(ctx context.Context) ([]model.OutboundJob, error) {
	return r.jobRepo.FindStuck(ctx, r.now().Add(-r.cfg.Runner.StaleAfter))
}
