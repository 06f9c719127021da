package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
)

const (
	defaultAdminListLimit = 50
	maxAdminListLimit     = 500
)

// JobAdmin is the operator view of the job queue.
type JobAdmin interface {
	List(ctx context.Context, status jobqueue.JobStatus, limit int) ([]models.Job, error)
	Stats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	Replay(ctx context.Context, id string) (*models.Job, error)
}

// HeldPurchaseLister lists purchases waiting for manual review.
type HeldPurchaseLister interface {
	HeldPurchases(ctx context.Context, limit int) ([]models.Purchase, error)
}

// QueueDepth reports the Redis backlog when jobs run on workers.
type QueueDepth interface {
	QueueSize(ctx context.Context) (int64, error)
	ProcessingSize(ctx context.Context) (int64, error)
}

type AdminController struct {
	jobs      JobAdmin
	purchases HeldPurchaseLister
	depth     QueueDepth
}

// NewAdminController creates the admin controller. depth may be nil in inline
// job mode.
func NewAdminController(jobs JobAdmin, purchases HeldPurchaseLister, depth QueueDepth) *AdminController {
	return &AdminController{jobs: jobs, purchases: purchases, depth: depth}
}

// HandleListJobs lists the newest jobs, optionally filtered by ?status=.
func (ac *AdminController) HandleListJobs(c *fiber.Ctx) error {
	status := jobqueue.JobStatus(c.Query("status"))
	switch status {
	case "", jobqueue.JobStatusPending, jobqueue.JobStatusDone, jobqueue.JobStatusError:
	default:
		return respondError(c, fiber.StatusBadRequest, "invalid_status", "status must be pending, done or error")
	}
	limit := clampLimit(c.QueryInt("limit", defaultAdminListLimit))

	ctx, cancel := requestContext(c)
	defer cancel()

	jobs, err := ac.jobs.List(ctx, status, limit)
	if err != nil {
		log.Errorf("[Admin] Failed to list jobs: %v", err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "jobs could not be loaded")
	}
	return c.JSON(fiber.Map{"jobs": jobs, "count": len(jobs)})
}

// HandleJobStats counts jobs by status.
func (ac *AdminController) HandleJobStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats, err := ac.jobs.Stats(ctx)
	if err != nil {
		log.Errorf("[Admin] Failed to count jobs: %v", err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "job stats could not be loaded")
	}
	resp := fiber.Map{"status": stats}
	if ac.depth != nil {
		queued, qErr := ac.depth.QueueSize(ctx)
		processing, pErr := ac.depth.ProcessingSize(ctx)
		if qErr == nil && pErr == nil {
			resp["redis"] = fiber.Map{"queued": queued, "processing": processing}
		} else {
			log.Warnf("[Admin] Failed to read queue depth: %v", errors.Join(qErr, pErr))
		}
	}
	return c.JSON(resp)
}

// HandleReplayJob re-runs a job stuck in pending.
func (ac *AdminController) HandleReplayJob(c *fiber.Ctx) error {
	id := c.Params("id")

	ctx, cancel := requestContext(c)
	defer cancel()

	job, err := ac.jobs.Replay(ctx, id)
	switch {
	case err == nil:
		return c.JSON(job)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return respondError(c, fiber.StatusNotFound, "job_not_found", "no job with id "+id)
	case errors.Is(err, jobqueue.ErrJobNotReplayable):
		return respondError(c, fiber.StatusConflict, "job_not_replayable", "only pending jobs can be replayed")
	default:
		log.Errorf("[Admin] Failed to replay job %s: %v", id, err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "job could not be replayed")
	}
}

// HandleHeldPurchases lists purchases whose integrity check failed.
func (ac *AdminController) HandleHeldPurchases(c *fiber.Ctx) error {
	limit := clampLimit(c.QueryInt("limit", defaultAdminListLimit))

	ctx, cancel := requestContext(c)
	defer cancel()

	purchases, err := ac.purchases.HeldPurchases(ctx, limit)
	if err != nil {
		log.Errorf("[Admin] Failed to list held purchases: %v", err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "purchases could not be loaded")
	}
	return c.JSON(fiber.Map{"purchases": purchases, "count": len(purchases)})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultAdminListLimit
	}
	if limit > maxAdminListLimit {
		return maxAdminListLimit
	}
	return limit
}
