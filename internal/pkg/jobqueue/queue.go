package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/entitlements"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
	"github.com/hauntedempire/paycore/internal/pkg/promotion"
)

// DefaultProcessTimeout bounds one job's side effects.
const DefaultProcessTimeout = 30 * time.Second

// Store persists jobs. Finish must only move a job out of pending and report
// false when it was not pending anymore.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Finish(ctx context.Context, id string, status string, errorMsg string) (bool, error)
	List(ctx context.Context, status string, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Scheduler hands a persisted job to a worker. A nil scheduler processes jobs
// inline inside Enqueue.
type Scheduler interface {
	Schedule(ctx context.Context, jobID string) error
}

type AccountUpdater interface {
	Upgrade(ctx context.Context, userID, paymentRef string, amount int64) (*models.Account, error)
	Downgrade(ctx context.Context, userID, refundRef string, amount int64) (*models.Account, error)
}

type Promoter interface {
	Promote(ctx context.Context, ev promotion.Event) error
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) notify.Result
}

// Handlers are the collaborators that execute job side effects.
type Handlers struct {
	Accounts AccountUpdater
	Promoter Promoter
	Notifier Notifier
}

// Queue persists jobs and runs them exactly once through pending -> done|error.
type Queue struct {
	store     Store
	scheduler Scheduler
	handlers  Handlers
	timeout   time.Duration
}

// NewQueue creates a job queue. Pass a nil scheduler for inline processing.
func NewQueue(store Store, handlers Handlers, scheduler Scheduler) *Queue {
	return &Queue{
		store:     store,
		scheduler: scheduler,
		handlers:  handlers,
		timeout:   DefaultProcessTimeout,
	}
}

// Enqueue persists a pending job and schedules it. Processing errors are
// recorded on the job, never returned here; an error means nothing was stored.
func (q *Queue) Enqueue(ctx context.Context, payload Payload) (*models.Job, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        string(payload.JobType()),
		Status:      string(JobStatusPending),
		PayloadJSON: string(data),
	}
	if err := q.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)

	if q.scheduler == nil {
		if err := q.Process(ctx, job.ID); err != nil {
			log.Errorf("[JobQueue] Inline processing of job %s failed: %v", job.ID, err)
		}
	} else if err := q.scheduler.Schedule(ctx, job.ID); err != nil {
		// The job stays pending and can be replayed.
		log.Errorf("[JobQueue] Failed to schedule job %s: %v", job.ID, err)
	}

	return q.reload(ctx, job), nil
}

func (q *Queue) reload(ctx context.Context, job *models.Job) *models.Job {
	if stored, err := q.store.Get(ctx, job.ID); err == nil {
		return stored
	}
	return job
}

// Process runs a pending job and records its terminal status. It returns
// ErrJobNotReplayable for jobs that already finished and a non-nil error only
// when the outcome could not be recorded.
func (q *Queue) Process(ctx context.Context, id string) error {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if JobStatus(job.Status) != JobStatusPending {
		return ErrJobNotReplayable
	}

	runCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	status, msg := q.run(runCtx, job)
	// Record the outcome even when the run context expired.
	finished, err := q.store.Finish(context.WithoutCancel(ctx), job.ID, string(status), msg)
	if err != nil {
		return fmt.Errorf("failed to record outcome of job %s: %w", job.ID, err)
	}
	if !finished {
		log.Warnf("[JobQueue] Job %s was finished concurrently, outcome %s dropped", job.ID, status)
		return nil
	}

	if status == JobStatusError {
		log.Errorf("[JobQueue] Job %s (Type: %s) failed: %s", job.ID, job.Type, msg)
	} else {
		log.Infof("[JobQueue] Job %s (Type: %s) completed", job.ID, job.Type)
	}
	return nil
}

// run executes the side effect and maps it to a terminal status and message.
func (q *Queue) run(ctx context.Context, job *models.Job) (JobStatus, string) {
	payload, err := decodePayload(job.Type, job.PayloadJSON)
	if err != nil {
		return JobStatusError, err.Error()
	}
	if err := payload.validate(); err != nil {
		return JobStatusError, err.Error()
	}

	switch p := payload.(type) {
	case PromotionPayload:
		return q.runPromotion(ctx, p)
	case AccountUpdatePayload:
		return q.runAccountUpdate(ctx, p)
	case NotifyPayload:
		return q.runNotify(ctx, p)
	default:
		return JobStatusError, fmt.Sprintf("%v: %T", ErrUnknownJobType, payload)
	}
}

// runPromotion never fails the job: the promotion service is best effort.
func (q *Queue) runPromotion(ctx context.Context, p PromotionPayload) (JobStatus, string) {
	if q.handlers.Promoter == nil {
		return JobStatusDone, ""
	}
	err := q.handlers.Promoter.Promote(ctx, promotion.Event{
		Kind:      p.Kind,
		UserID:    p.UserID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reference: p.Reference,
	})
	if err != nil && !errors.Is(err, promotion.ErrDisabled) {
		log.Warnf("[JobQueue] Promotion %s for %s failed: %v", p.Kind, p.UserID, err)
		return JobStatusDone, "promotion failed: " + err.Error()
	}
	return JobStatusDone, ""
}

func (q *Queue) runAccountUpdate(ctx context.Context, p AccountUpdatePayload) (JobStatus, string) {
	if q.handlers.Accounts == nil {
		return JobStatusError, "no account updater configured"
	}

	var (
		account *models.Account
		err     error
		text    string
	)
	switch p.Action {
	case ActionUpgrade:
		account, err = q.handlers.Accounts.Upgrade(ctx, p.UserID, p.Reference, p.Amount)
		text = fmt.Sprintf("User %s upgraded to %s (payment %s, %s)", p.UserID, entitlements.TierPremium, p.Reference, formatAmount(p.Amount, p.Currency))
	case ActionDowngrade:
		account, err = q.handlers.Accounts.Downgrade(ctx, p.UserID, p.Reference, p.Amount)
		text = fmt.Sprintf("User %s downgraded to %s (refund %s, %s)", p.UserID, entitlements.TierFree, p.Reference, formatAmount(p.Amount, p.Currency))
	default:
		return JobStatusError, fmt.Sprintf("%v: %q", ErrUnknownAction, p.Action)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return JobStatusError, fmt.Sprintf("account %s not found", p.UserID)
		}
		return JobStatusError, err.Error()
	}
	log.Infof("[JobQueue] Account %s is now %s", account.UserID, account.Tier)

	// Enqueued from inside the job so the message never precedes the update.
	if p.Notify {
		if _, err := q.Enqueue(ctx, NotifyPayload{Kind: notify.KindAccount, Message: text}); err != nil {
			log.Errorf("[JobQueue] Failed to enqueue account notification for %s: %v", p.UserID, err)
		}
	}
	return JobStatusDone, ""
}

// runNotify always ends done. Channel failures are recorded on the job.
func (q *Queue) runNotify(ctx context.Context, p NotifyPayload) (JobStatus, string) {
	if q.handlers.Notifier == nil {
		return JobStatusDone, ""
	}
	res := q.handlers.Notifier.Send(ctx, notify.Message{
		Kind:    p.Kind,
		Text:    p.Message,
		Email:   p.Email,
		Subject: p.Subject,
	})
	switch {
	case res.AllFailed():
		log.Warnf("[JobQueue] Notification %q reached no channel: %s", p.Kind, res.Error())
		return JobStatusDone, "delivery failed: " + res.Error()
	case res.Partial():
		return JobStatusDone, "partial delivery: " + res.Error()
	}
	return JobStatusDone, ""
}

// Replay re-runs a job that is still pending, e.g. after a crash.
func (q *Queue) Replay(ctx context.Context, id string) (*models.Job, error) {
	if err := q.Process(ctx, id); err != nil {
		return nil, err
	}
	return q.store.Get(ctx, id)
}

// Get retrieves a job by ID
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.store.Get(ctx, id)
}

// List returns the newest jobs, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status JobStatus, limit int) ([]models.Job, error) {
	return q.store.List(ctx, string(status), limit)
}

// Stats counts jobs by status.
func (q *Queue) Stats(ctx context.Context) (map[JobStatus]int64, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	result := map[JobStatus]int64{
		JobStatusPending: 0,
		JobStatusDone:    0,
		JobStatusError:   0,
	}
	for status, n := range counts {
		result[JobStatus(status)] = n
	}
	return result, nil
}

func formatAmount(amount int64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%d", amount)
	}
	return fmt.Sprintf("%d %s", amount, currency)
}
