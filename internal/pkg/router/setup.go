package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hauntedempire/paycore/app/controllers"
	"github.com/hauntedempire/paycore/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the constructed controllers and settings the routes need.
type Dependencies struct {
	Config   *config.Config
	Webhook  *controllers.WebhookController
	Checkout *controllers.CheckoutController
	Payment  *controllers.PaymentController
	Usage    *controllers.UsageController
	Admin    *controllers.AdminController
	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
