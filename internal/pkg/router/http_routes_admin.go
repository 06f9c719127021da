package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hauntedempire/paycore/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin(h.deps.Config.Admin))

	// Job queue
	adminGroup.Get("/jobs", h.deps.Admin.HandleListJobs)
	adminGroup.Get("/jobs/stats", h.deps.Admin.HandleJobStats)
	adminGroup.Post("/jobs/:id/replay", h.deps.Admin.HandleReplayJob)

	// Purchases held by the integrity check
	adminGroup.Get("/purchases/held", h.deps.Admin.HandleHeldPurchases)
}
