package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/internal/pkg/billing"
)

// CheckoutCreator starts single product and bulk checkouts.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	CreateBulkCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
}

type CheckoutController struct {
	catalog  *billing.Catalog
	checkout CheckoutCreator
}

func NewCheckoutController(catalog *billing.Catalog, checkout CheckoutCreator) *CheckoutController {
	return &CheckoutController{catalog: catalog, checkout: checkout}
}

type checkoutRequest struct {
	UserID     string `json:"user_id" validate:"max=191"`
	ProductID  string `json:"product_id" validate:"required,max=191"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type bulkCheckoutRequest struct {
	UserID     string                 `json:"user_id" validate:"max=191"`
	Items      []billing.CheckoutItem `json:"items" validate:"required,min=1,max=50,dive"`
	SuccessURL string                 `json:"success_url" validate:"required,url"`
	CancelURL  string                 `json:"cancel_url" validate:"required,url"`
}

// HandleListProducts returns the catalog in file order.
func (cc *CheckoutController) HandleListProducts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"products": cc.catalog.Products()})
}

// HandleCreateCheckout returns a static payment link or a new session URL for
// one product.
func (cc *CheckoutController) HandleCreateCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := cc.checkout.CreateCheckout(ctx, billing.CheckoutRequest{
		UserID:     req.UserID,
		ProductID:  req.ProductID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(result)
}

// HandleCreateBulkCheckout creates one session for several catalog items.
func (cc *CheckoutController) HandleCreateBulkCheckout(c *fiber.Ctx) error {
	var req bulkCheckoutRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := cc.checkout.CreateBulkCheckout(ctx, billing.CheckoutRequest{
		UserID:     req.UserID,
		Items:      req.Items,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(result)
}

func checkoutError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrUnknownProduct):
		return respondError(c, fiber.StatusNotFound, "unknown_product", err.Error())
	case errors.Is(err, billing.ErrInvalidQuantity),
		errors.Is(err, billing.ErrEmptyCheckout),
		errors.Is(err, billing.ErrMixedCurrency),
		errors.Is(err, billing.ErrBulkSubscription):
		return respondError(c, fiber.StatusBadRequest, "invalid_checkout", err.Error())
	default:
		log.Errorf("[Checkout] Failed to create checkout session: %v", err)
		return respondError(c, fiber.StatusBadGateway, "provider_error", "the payment provider could not create a checkout session")
	}
}
