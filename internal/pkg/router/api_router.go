package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hauntedempire/paycore/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", middleware.APIRateLimiter(h.deps.Config.App.RateLimit, h.deps.LimiterStorage))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Catalog and checkout
	api.Get("/products", h.deps.Checkout.HandleListProducts)
	api.Post("/checkout", h.deps.Checkout.HandleCreateCheckout)
	api.Post("/checkout/bulk", h.deps.Checkout.HandleCreateBulkCheckout)

	// Direct charges
	api.Post("/pay", h.deps.Payment.HandlePay)
	api.Post("/refund", h.deps.Payment.HandleRefund)

	// Metered usage
	api.Post("/lore-drop", h.deps.Usage.HandleLoreDrop)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
