package controllers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
	"github.com/hauntedempire/paycore/internal/pkg/quota"
)

type UsageController struct {
	quota QuotaChecker
	jobs  JobEnqueuer
}

func NewUsageController(quota QuotaChecker, jobs JobEnqueuer) *UsageController {
	return &UsageController{quota: quota, jobs: jobs}
}

type loreDropRequest struct {
	UserID string `json:"user_id" validate:"required,max=191"`
	Title  string `json:"title" validate:"max=200"`
}

// HandleLoreDrop counts an API call and a lore drop, then announces the drop.
func (uc *UsageController) HandleLoreDrop(c *fiber.Ctx) error {
	var req loreDropRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	for _, op := range []quota.Operation{quota.OpAPICall, quota.OpLoreDrop} {
		decision, err := uc.quota.CheckAndIncrement(ctx, req.UserID, op)
		if err != nil {
			log.Errorf("[Usage] Quota check %s failed for %s: %v", op, req.UserID, err)
			return respondError(c, fiber.StatusInternalServerError, "internal_error", "usage could not be checked")
		}
		if !decision.Allowed {
			return respondError(c, fiber.StatusForbidden, "quota_exceeded", decision.Reason)
		}
	}

	message := "A new live lore drop has occurred!"
	if title := strings.TrimSpace(req.Title); title != "" {
		message = fmt.Sprintf("A new live lore drop has occurred: %s", title)
	}
	notified := true
	if _, err := uc.jobs.Enqueue(ctx, jobqueue.NotifyPayload{Kind: notify.KindLoreDrop, Message: message}); err != nil {
		log.Errorf("[Usage] Failed to enqueue lore drop notification: %v", err)
		notified = false
	}
	return c.JSON(fiber.Map{"status": "lore drop triggered", "notified": notified})
}
