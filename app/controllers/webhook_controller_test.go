package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/billing"
	"github.com/hauntedempire/paycore/internal/pkg/database"
	"github.com/hauntedempire/paycore/internal/pkg/integrity"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
)

const testWebhookSecret = "whsec_test"

const controllerCatalogYAML = `
products:
  - id: a
    name: Alpha pack
    amount: 500
    currency: usd
  - id: b
    name: Beta pack
    amount: 1000
    currency: usd
`

type fakeArchive struct {
	stored []string
	err    error
}

func (f *fakeArchive) Store(ctx context.Context, eventID string, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, eventID)
	return "webhooks/" + eventID + ".json", nil
}

type webhookFixture struct {
	app     *fiber.App
	billing *billing.Service
	jobs    *fakeJobs
	archive *fakeArchive
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	catalog, err := billing.ParseCatalog([]byte(controllerCatalogYAML))
	require.NoError(t, err)

	f := &webhookFixture{
		billing: billing.NewServiceFromDB(db, catalog),
		jobs:    &fakeJobs{},
		archive: &fakeArchive{},
	}
	wc := NewWebhookController(billing.NewWebhookVerifier(testWebhookSecret, 5*time.Minute), f.billing, f.jobs, f.archive)
	f.app = fiber.New()
	f.app.Post("/webhook/stripe", wc.HandleStripeWebhook)
	return f
}

func (f *webhookFixture) deliver(t *testing.T, body []byte, signature string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func (f *webhookFixture) deliverSigned(t *testing.T, body []byte) (int, map[string]interface{}) {
	t.Helper()
	return f.deliver(t, body, billing.SignPayload(body, testWebhookSecret, time.Now()))
}

func eventBody(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return body
}

func bulkCheckoutObject(token string) map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_test_1",
		"mode":         "payment",
		"amount_total": 2000,
		"currency":     "usd",
		"metadata": map[string]string{
			billing.MetadataIntegrityToken: token,
			billing.MetadataItems:          "a:2,b:1",
			billing.MetadataProductIDs:     "a,b",
			billing.MetadataUserID:         "user-1",
		},
	}
}

func validToken() string {
	return integrity.ComputeToken([]integrity.Item{
		{ProductID: "a", Quantity: 2, UnitAmount: 500},
		{ProductID: "b", Quantity: 1, UnitAmount: 1000},
	})
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_bad", billing.EventCheckoutSessionCompleted, bulkCheckoutObject(validToken()))

	status, out := f.deliver(t, body, billing.SignPayload(body, "whsec_other", time.Now()))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, map[string]interface{}{"received": false}, out)

	status, _ = f.deliver(t, body, "garbage")
	assert.Equal(t, fiber.StatusBadRequest, status)

	assert.Empty(t, f.jobs.all())
	assert.Empty(t, f.archive.stored)
}

func TestStripeWebhook_RejectsStaleTimestamp(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_old", billing.EventCheckoutSessionCompleted, bulkCheckoutObject(validToken()))

	status, _ := f.deliver(t, body, billing.SignPayload(body, testWebhookSecret, time.Now().Add(-time.Hour)))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestStripeWebhook_CheckoutCompletedIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_checkout", billing.EventCheckoutSessionCompleted, bulkCheckoutObject(validToken()))

	for i := 0; i < 3; i++ {
		status, out := f.deliverSigned(t, body)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, true, out["received"])
	}

	purchase, err := f.billing.FindPurchase(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.True(t, purchase.IntegrityValid)
	assert.Equal(t, int64(2000), purchase.AmountTotal)
	assert.Len(t, purchase.Items, 2)

	// Side effects are enqueued for the first delivery only.
	assert.Equal(t, []string{notify.KindPurchase}, f.jobs.notifyKinds())
	assert.Equal(t, []string{"evt_checkout", "evt_checkout", "evt_checkout"}, f.archive.stored)
}

func TestStripeWebhook_CheckoutCompletedUpgradesBuyer(t *testing.T) {
	f := newWebhookFixture(t)
	object := bulkCheckoutObject(validToken())
	object["payment_intent"] = "pi_checkout_1"
	body := eventBody(t, "evt_checkout_upgrade", billing.EventCheckoutSessionCompleted, object)

	status, _ := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)

	jobs := f.jobs.all()
	require.Len(t, jobs, 3)
	assert.Equal(t, jobqueue.PromotionPayload{
		Kind: "payment", UserID: "user-1", Amount: 2000, Currency: "usd", Reference: "pi_checkout_1",
	}, jobs[0])
	assert.Equal(t, jobqueue.AccountUpdatePayload{
		Action: jobqueue.ActionUpgrade, UserID: "user-1", Reference: "pi_checkout_1", Amount: 2000, Currency: "usd", Notify: true,
	}, jobs[1])
	assert.Equal(t, notify.KindPurchase, jobs[2].(jobqueue.NotifyPayload).Kind)

	// The payment intent behind the session succeeds afterwards.
	body = eventBody(t, "evt_checkout_pi", billing.EventPaymentIntentSucceeded, map[string]interface{}{
		"id":       "pi_checkout_1",
		"amount":   2000,
		"currency": "usd",
		"metadata": map[string]string{
			billing.MetadataUserID: "user-1",
			billing.MetadataSource: billing.MetadataSourceCheckout,
		},
	})
	status, _ = f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, f.jobs.all(), 3, "no second upgrade for the same payment")
}

func TestStripeWebhook_PaymentLinkCheckoutIsStoredAndHeld(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_link", billing.EventCheckoutSessionCompleted, map[string]interface{}{
		"id":           "cs_link_1",
		"mode":         "payment",
		"amount_total": 500,
		"currency":     "usd",
	})

	status, out := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["received"])

	purchase, err := f.billing.FindPurchase(context.Background(), "cs_link_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), purchase.AmountTotal)
	assert.False(t, purchase.IntegrityValid)
	assert.Equal(t, models.ReviewStatusHeld, purchase.ReviewStatus)

	assert.Equal(t, []string{notify.KindPurchase, notify.KindReview}, f.jobs.notifyKinds())
	for _, p := range f.jobs.all() {
		assert.NotEqual(t, jobqueue.JobTypeDBUpdate, p.JobType())
	}
}

func TestStripeWebhook_PaymentLinkWithClientReferenceUpgrades(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_link_ref", billing.EventCheckoutSessionCompleted, map[string]interface{}{
		"id":                  "cs_link_2",
		"amount_total":        500,
		"currency":            "usd",
		"client_reference_id": "user-5",
	})

	status, _ := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)

	jobs := f.jobs.all()
	require.GreaterOrEqual(t, len(jobs), 2)
	update, ok := jobs[1].(jobqueue.AccountUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, "user-5", update.UserID)
	assert.Equal(t, "cs_link_2", update.Reference)
}

func TestStripeWebhook_TamperedCheckoutIsHeld(t *testing.T) {
	f := newWebhookFixture(t)
	object := bulkCheckoutObject(validToken())
	object["metadata"].(map[string]string)[billing.MetadataItems] = "a:3,b:1"
	body := eventBody(t, "evt_tampered", billing.EventCheckoutSessionCompleted, object)

	status, _ := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)

	purchase, err := f.billing.FindPurchase(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.False(t, purchase.IntegrityValid)
	assert.Equal(t, models.ReviewStatusHeld, purchase.ReviewStatus)
	assert.Equal(t, []string{notify.KindPurchase, notify.KindReview}, f.jobs.notifyKinds())

	held, err := f.billing.HeldPurchases(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestStripeWebhook_PaymentSucceeded(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_pi", billing.EventPaymentIntentSucceeded, map[string]interface{}{
		"id":       "pi_1",
		"amount":   1999,
		"currency": "usd",
		"status":   "succeeded",
		"metadata": map[string]string{"user_id": "user-7"},
	})

	status, _ := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)

	jobs := f.jobs.all()
	require.Len(t, jobs, 3)
	assert.Equal(t, jobqueue.PromotionPayload{Kind: "payment", UserID: "user-7", Amount: 1999, Currency: "usd", Reference: "pi_1"}, jobs[0])
	assert.Equal(t, jobqueue.AccountUpdatePayload{
		Action: jobqueue.ActionUpgrade, UserID: "user-7", Reference: "pi_1", Amount: 1999, Currency: "usd", Notify: true,
	}, jobs[1])
	assert.Equal(t, notify.KindPaymentSuccess, jobs[2].(jobqueue.NotifyPayload).Kind)
	assert.Contains(t, jobs[2].(jobqueue.NotifyPayload).Message, "19.99 USD")
}

func TestStripeWebhook_ChargeRefunded(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_refund", billing.EventChargeRefunded, map[string]interface{}{
		"id":              "ch_1",
		"amount":          1999,
		"amount_refunded": 1000,
		"currency":        "usd",
		"refunded":        false,
		"metadata":        map[string]string{"user_id": "user-7"},
	})

	status, _ := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)

	jobs := f.jobs.all()
	require.Len(t, jobs, 3)
	assert.Equal(t, "refund", jobs[0].(jobqueue.PromotionPayload).Kind)
	update := jobs[1].(jobqueue.AccountUpdatePayload)
	assert.Equal(t, jobqueue.ActionDowngrade, update.Action)
	assert.Equal(t, int64(1000), update.Amount)
	assert.Equal(t, notify.KindRefund, jobs[2].(jobqueue.NotifyPayload).Kind)
}

func TestStripeWebhook_PaymentWithoutUserSkipsAccountUpdate(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_anon", billing.EventPaymentIntentSucceeded, map[string]interface{}{
		"id": "pi_2", "amount": 500, "currency": "usd",
	})

	status, _ := f.deliverSigned(t, body)
	require.Equal(t, fiber.StatusOK, status)
	for _, p := range f.jobs.all() {
		assert.NotEqual(t, jobqueue.JobTypeDBUpdate, p.JobType())
	}
}

func TestStripeWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_other", "customer.created", map[string]interface{}{"id": "cus_1"})

	status, out := f.deliverSigned(t, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["received"])
	assert.Empty(t, f.jobs.all())
}

func TestStripeWebhook_ArchiveFailureDoesNotBlock(t *testing.T) {
	f := newWebhookFixture(t)
	f.archive.err = errors.New("bucket unavailable")
	body := eventBody(t, "evt_archive", "customer.created", map[string]interface{}{"id": "cus_1"})

	status, _ := f.deliverSigned(t, body)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestStripeWebhook_EnqueueFailureIsRetried(t *testing.T) {
	f := newWebhookFixture(t)
	f.jobs.err = errors.New("database is locked")
	body := eventBody(t, "evt_retry", billing.EventPaymentIntentSucceeded, map[string]interface{}{
		"id": "pi_3", "amount": 500, "currency": "usd", "metadata": map[string]string{"user_id": "user-9"},
	})

	status, out := f.deliverSigned(t, body)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, false, out["received"])

	// The provider redelivers; the event was not settled, so it is processed.
	f.jobs.err = nil
	status, _ = f.deliverSigned(t, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, f.jobs.all(), 3)

	status, _ = f.deliverSigned(t, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, f.jobs.all(), 3)
}

func TestStripeWebhook_MalformedObjectIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "evt_noid", billing.EventCheckoutSessionCompleted, map[string]interface{}{"mode": "payment"})

	status, _ := f.deliverSigned(t, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, f.jobs.all())
}
