package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/billing"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/middleware"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
)

const (
	webhookTimeout        = 15 * time.Second
	stripeSignatureHeader = "Stripe-Signature"
	promotionKindPayment  = "payment"
	promotionKindRefund   = "refund"
)

// JobEnqueuer persists a job and hands it to the job queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, payload jobqueue.Payload) (*models.Job, error)
}

// PayloadArchiver keeps a copy of raw webhook bodies.
type PayloadArchiver interface {
	Store(ctx context.Context, eventID string, payload []byte) (string, error)
}

// WebhookLedger is the persistence side of webhook handling.
type WebhookLedger interface {
	RecordWebhookEvent(ctx context.Context, input billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	RecordCompletedCheckout(ctx context.Context, event *billing.Event) (*models.Purchase, error)
}

// WebhookController receives provider webhooks.
type WebhookController struct {
	verifier *billing.WebhookVerifier
	ledger   WebhookLedger
	jobs     JobEnqueuer
	archive  PayloadArchiver
}

// NewWebhookController creates the webhook controller. archive may be nil.
func NewWebhookController(verifier *billing.WebhookVerifier, ledger WebhookLedger, jobs JobEnqueuer, archive PayloadArchiver) *WebhookController {
	return &WebhookController{verifier: verifier, ledger: ledger, jobs: jobs, archive: archive}
}

// HandleStripeWebhook verifies, records and dispatches one provider event. The
// response body never explains a rejection.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	event, err := wc.verifier.Verify(rawBody, c.Get(stripeSignatureHeader))
	if err != nil {
		log.Warnf("[Webhook] Rejected delivery from %s: %v", middleware.ClientIP(c), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"received": false})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	if wc.archive != nil {
		if _, err := wc.archive.Store(ctx, event.ID, rawBody); err != nil {
			log.Warnf("[Webhook] Failed to archive event %s: %v", event.ID, err)
		}
	}

	created, stored, err := wc.ledger.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to persist event %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"received": false})
	}
	if !created && stored.IsSettled() {
		log.Debugf("[Webhook] Event %s already processed", event.ID)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}

	procErr := wc.dispatch(ctx, event)
	switch {
	case procErr == nil:
		wc.markProcessed(ctx, stored.ID, "")
	case errors.Is(procErr, billing.ErrInvalidPayload):
		// A verified but malformed event will not improve on redelivery.
		log.Warnf("[Webhook] Event %s could not be decoded: %v", event.ID, procErr)
		wc.markProcessed(ctx, stored.ID, procErr.Error())
	default:
		log.Errorf("[Webhook] Failed to process event %s: %v", event.ID, procErr)
		wc.markProcessed(ctx, stored.ID, procErr.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"received": false})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

func (wc *WebhookController) markProcessed(ctx context.Context, id uint, processingError string) {
	if err := wc.ledger.MarkWebhookProcessed(context.WithoutCancel(ctx), id, processingError); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d processed: %v", id, err)
	}
}

func (wc *WebhookController) dispatch(ctx context.Context, event *billing.Event) error {
	switch event.Type {
	case billing.EventCheckoutSessionCompleted:
		return wc.handleCheckoutCompleted(ctx, event)
	case billing.EventPaymentIntentSucceeded:
		return wc.handlePaymentSucceeded(ctx, event)
	case billing.EventChargeRefunded:
		return wc.handleChargeRefunded(ctx, event)
	default:
		log.Debugf("[Webhook] Ignoring event %s of type %s", event.ID, event.Type)
		return nil
	}
}

// handleCheckoutCompleted records the purchase and upgrades its buyer. The
// payment intent behind a checkout session is tagged, so its own success event
// does not upgrade a second time.
func (wc *WebhookController) handleCheckoutCompleted(ctx context.Context, event *billing.Event) error {
	purchase, err := wc.ledger.RecordCompletedCheckout(ctx, event)
	if err != nil {
		return err
	}
	session, err := event.CheckoutSession()
	if err != nil {
		return err
	}
	reference := strings.TrimSpace(session.PaymentIntent)
	if reference == "" {
		reference = purchase.SessionID
	}

	var jobs []jobqueue.Payload
	if purchase.UserID != "" {
		jobs = append(jobs,
			jobqueue.PromotionPayload{
				Kind:      promotionKindPayment,
				UserID:    purchase.UserID,
				Amount:    purchase.AmountTotal,
				Currency:  purchase.Currency,
				Reference: reference,
			},
			jobqueue.AccountUpdatePayload{
				Action:    jobqueue.ActionUpgrade,
				UserID:    purchase.UserID,
				Reference: reference,
				Amount:    purchase.AmountTotal,
				Currency:  purchase.Currency,
				Notify:    true,
			},
		)
	} else {
		log.Warnf("[Webhook] Checkout %s carries no user id, account left unchanged", purchase.SessionID)
	}
	jobs = append(jobs, jobqueue.NotifyPayload{
		Kind: notify.KindPurchase,
		Message: fmt.Sprintf("Purchase %s completed: %s for user %s",
			purchase.SessionID, formatMoney(purchase.AmountTotal, purchase.Currency), displayUser(purchase.UserID)),
	})
	if purchase.ReviewStatus == models.ReviewStatusHeld {
		jobs = append(jobs, jobqueue.NotifyPayload{
			Kind: notify.KindReview,
			Message: fmt.Sprintf("Purchase %s failed the integrity check and is held for review",
				purchase.SessionID),
		})
	}
	return wc.enqueueAll(ctx, jobs...)
}

func (wc *WebhookController) handlePaymentSucceeded(ctx context.Context, event *billing.Event) error {
	pi, err := event.PaymentIntent()
	if err != nil {
		return err
	}
	if pi.Metadata[billing.MetadataSource] == billing.MetadataSourceCheckout {
		log.Debugf("[Webhook] Payment %s belongs to a checkout session, handled on completion", pi.ID)
		return nil
	}
	userID := strings.TrimSpace(pi.Metadata[billing.MetadataUserID])

	jobs := []jobqueue.Payload{
		jobqueue.PromotionPayload{
			Kind:      promotionKindPayment,
			UserID:    userID,
			Amount:    pi.Amount,
			Currency:  pi.Currency,
			Reference: pi.ID,
		},
	}
	if userID != "" {
		jobs = append(jobs, jobqueue.AccountUpdatePayload{
			Action:    jobqueue.ActionUpgrade,
			UserID:    userID,
			Reference: pi.ID,
			Amount:    pi.Amount,
			Currency:  pi.Currency,
			Notify:    true,
		})
	} else {
		log.Warnf("[Webhook] Payment %s carries no user id, account left unchanged", pi.ID)
	}
	jobs = append(jobs, jobqueue.NotifyPayload{
		Kind:    notify.KindPaymentSuccess,
		Message: fmt.Sprintf("Payment %s succeeded: %s for user %s", pi.ID, formatMoney(pi.Amount, pi.Currency), displayUser(userID)),
	})
	return wc.enqueueAll(ctx, jobs...)
}

func (wc *WebhookController) handleChargeRefunded(ctx context.Context, event *billing.Event) error {
	charge, err := event.Charge()
	if err != nil {
		return err
	}
	userID := strings.TrimSpace(charge.Metadata[billing.MetadataUserID])
	amount := charge.AmountRefunded
	if amount == 0 {
		amount = charge.Amount
	}

	jobs := []jobqueue.Payload{
		jobqueue.PromotionPayload{
			Kind:      promotionKindRefund,
			UserID:    userID,
			Amount:    amount,
			Currency:  charge.Currency,
			Reference: charge.ID,
		},
	}
	if userID != "" {
		jobs = append(jobs, jobqueue.AccountUpdatePayload{
			Action:    jobqueue.ActionDowngrade,
			UserID:    userID,
			Reference: charge.ID,
			Amount:    amount,
			Currency:  charge.Currency,
			Notify:    true,
		})
	} else {
		log.Warnf("[Webhook] Refund of %s carries no user id, account left unchanged", charge.ID)
	}
	jobs = append(jobs, jobqueue.NotifyPayload{
		Kind:    notify.KindRefund,
		Message: fmt.Sprintf("Charge %s refunded: %s for user %s", charge.ID, formatMoney(amount, charge.Currency), displayUser(userID)),
	})
	return wc.enqueueAll(ctx, jobs...)
}

// enqueueAll stops at the first job that could not be stored.
func (wc *WebhookController) enqueueAll(ctx context.Context, payloads ...jobqueue.Payload) error {
	for _, p := range payloads {
		if _, err := wc.jobs.Enqueue(ctx, p); err != nil {
			return fmt.Errorf("failed to enqueue %s job: %w", p.JobType(), err)
		}
	}
	return nil
}

func formatMoney(amount int64, currency string) string {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		return fmt.Sprintf("%d.%02d", amount/100, amount%100)
	}
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, cur)
}

func displayUser(userID string) string {
	if userID == "" {
		return "unknown"
	}
	return userID
}
