package router

import (
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Billing provider webhooks (signature-verified in controller, never rate limited)
	app.Post("/webhook/stripe", h.deps.Webhook.HandleStripeWebhook)
}
