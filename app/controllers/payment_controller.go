package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/hauntedempire/paycore/internal/pkg/gateway"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
	"github.com/hauntedempire/paycore/internal/pkg/provider"
	"github.com/hauntedempire/paycore/internal/pkg/quota"
)

// CouponHalfOff halves the charge amount, rounding down.
const CouponHalfOff = "HALFOFF"

var errUnknownCoupon = errors.New("unknown coupon")

// QuotaChecker is the usage side of the quota enforcer.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, userID string, op quota.Operation) (quota.Decision, error)
	CheckChargeAmount(ctx context.Context, userID string, amount int64) (quota.Decision, error)
}

// Charger issues charges and refunds at the payment provider.
type Charger interface {
	CreateCharge(ctx context.Context, req provider.ChargeRequest) (*provider.Charge, error)
	RefundCharge(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error)
}

type PaymentController struct {
	charger Charger
	gateway *gateway.Gateway
	quota   QuotaChecker
	jobs    JobEnqueuer
}

func NewPaymentController(charger Charger, gw *gateway.Gateway, quota QuotaChecker, jobs JobEnqueuer) *PaymentController {
	return &PaymentController{charger: charger, gateway: gw, quota: quota, jobs: jobs}
}

type payRequest struct {
	UserID        string `json:"user_id" validate:"required,max=191"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3,alpha"`
	PaymentMethod string `json:"payment_method" validate:"max=191"`
	Description   string `json:"description" validate:"max=500"`
	Coupon        string `json:"coupon" validate:"max=64"`
}

type refundRequest struct {
	UserID    string `json:"user_id" validate:"required,max=191"`
	PaymentID string `json:"payment_id" validate:"required,max=191"`
	Amount    int64  `json:"amount" validate:"gte=0"`
	Reason    string `json:"reason" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

// HandlePay counts the call against the user's quota, applies the tier charge
// cap and coupon, and creates the charge through the retrying gateway.
func (pc *PaymentController) HandlePay(c *fiber.Ctx) error {
	var req payRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	decision, err := pc.quota.CheckAndIncrement(ctx, req.UserID, quota.OpAPICall)
	if err != nil {
		log.Errorf("[Pay] Quota check failed for %s: %v", req.UserID, err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "usage could not be checked")
	}
	if !decision.Allowed {
		return respondError(c, fiber.StatusForbidden, "quota_exceeded", decision.Reason)
	}

	amount, err := applyCoupon(req.Amount, req.Coupon)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid_coupon", err.Error())
	}

	decision, err = pc.quota.CheckChargeAmount(ctx, req.UserID, amount)
	if err != nil {
		log.Errorf("[Pay] Charge cap check failed for %s: %v", req.UserID, err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "charge limit could not be checked")
	}
	if !decision.Allowed {
		return respondError(c, fiber.StatusForbidden, "charge_limit_exceeded", decision.Reason)
	}

	chargeReq := provider.ChargeRequest{
		UserID:         req.UserID,
		Amount:         amount,
		Currency:       strings.ToLower(req.Currency),
		PaymentMethod:  req.PaymentMethod,
		Description:    req.Description,
		IdempotencyKey: uuid.NewString(),
	}
	charge, err := gateway.Call(ctx, pc.gateway, "create charge", func(ctx context.Context) (*provider.Charge, error) {
		return pc.charger.CreateCharge(ctx, chargeReq)
	})
	if err != nil {
		log.Errorf("[Pay] Charge for %s failed: %v", req.UserID, err)
		if gateway.IsPermanent(err) {
			return respondError(c, fiber.StatusPaymentRequired, "payment_declined", "the payment was declined")
		}
		return respondError(c, fiber.StatusBadGateway, "provider_error", "the payment provider is unavailable")
	}

	pc.enqueue(ctx, jobqueue.NotifyPayload{
		Kind:    notify.KindPaymentSuccess,
		Message: fmt.Sprintf("Charge %s processed for user %s: %s", charge.ID, req.UserID, formatMoney(charge.Amount, charge.Currency)),
	})
	return c.JSON(fiber.Map{
		"success": true,
		"charge":  charge,
		"amount":  amount,
		"coupon":  strings.ToUpper(strings.TrimSpace(req.Coupon)),
	})
}

// HandleRefund refunds a charge or payment intent through the retrying gateway.
func (pc *PaymentController) HandleRefund(c *fiber.Ctx) error {
	var req refundRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	refundReq := provider.RefundRequest{
		PaymentID:      req.PaymentID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: uuid.NewString(),
	}
	refund, err := gateway.Call(ctx, pc.gateway, "refund charge", func(ctx context.Context) (*provider.Refund, error) {
		return pc.charger.RefundCharge(ctx, refundReq)
	})
	if err != nil {
		log.Errorf("[Refund] Refund of %s for %s failed: %v", req.PaymentID, req.UserID, err)
		if gateway.IsPermanent(err) {
			return respondError(c, fiber.StatusUnprocessableEntity, "refund_rejected", "the refund was rejected by the payment provider")
		}
		return respondError(c, fiber.StatusBadGateway, "provider_error", "the payment provider is unavailable")
	}

	pc.enqueue(ctx, jobqueue.NotifyPayload{
		Kind:    notify.KindRefund,
		Message: fmt.Sprintf("Refund %s issued for user %s, payment %s", refund.ID, req.UserID, req.PaymentID),
	})
	return c.JSON(fiber.Map{"success": true, "refund": refund})
}

func (pc *PaymentController) enqueue(ctx context.Context, payload jobqueue.Payload) {
	if _, err := pc.jobs.Enqueue(ctx, payload); err != nil {
		log.Errorf("[Pay] Failed to enqueue %s job: %v", payload.JobType(), err)
	}
}

func applyCoupon(amount int64, coupon string) (int64, error) {
	switch strings.ToUpper(strings.TrimSpace(coupon)) {
	case "":
		return amount, nil
	case CouponHalfOff:
		return amount / 2, nil
	default:
		return 0, fmt.Errorf("%w: %s", errUnknownCoupon, coupon)
	}
}
