package controllers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hauntedempire/paycore/internal/pkg/gateway"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
	"github.com/hauntedempire/paycore/internal/pkg/quota"
)

type paymentFixture struct {
	app     *fiber.App
	quota   *fakeQuota
	charger *fakeCharger
	jobs    *fakeJobs
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{quota: &fakeQuota{}, charger: &fakeCharger{}, jobs: &fakeJobs{}}
	pc := NewPaymentController(f.charger, gateway.NewWithPolicy(3, 0), f.quota, f.jobs)
	f.app = fiber.New()
	f.app.Post("/api/pay", pc.HandlePay)
	f.app.Post("/api/refund", pc.HandleRefund)
	return f
}

func TestApplyCoupon(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		coupon  string
		want    int64
		wantErr bool
	}{
		{name: "no coupon", amount: 1001, coupon: "", want: 1001},
		{name: "half off rounds down", amount: 1001, coupon: "HALFOFF", want: 500},
		{name: "case insensitive", amount: 200, coupon: " halfoff ", want: 100},
		{name: "unknown", amount: 200, coupon: "FREEBIE", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyCoupon(tt.amount, tt.coupon)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUnknownCoupon)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandlePay_Success(t *testing.T) {
	f := newPaymentFixture()

	status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 3001, "currency": "USD", "coupon": "HALFOFF",
	})
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1500), out["amount"])

	require.Len(t, f.charger.charges, 1)
	charge := f.charger.charges[0]
	assert.Equal(t, int64(1500), charge.Amount)
	assert.Equal(t, "usd", charge.Currency)
	assert.NotEmpty(t, charge.IdempotencyKey)
	assert.Equal(t, int64(1500), f.quota.chargeSeen)
	assert.Equal(t, []quota.Operation{quota.OpAPICall}, f.quota.calls)
	assert.Equal(t, []string{notify.KindPaymentSuccess}, f.jobs.notifyKinds())
}

func TestHandlePay_RetriesTransientFailures(t *testing.T) {
	f := newPaymentFixture()
	f.charger.chargeErrs = []error{errors.New("timeout"), errors.New("timeout")}

	status, _ := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 100, "currency": "usd",
	})
	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, f.charger.charges, 3)
	// One logical charge, one idempotency key.
	assert.Equal(t, f.charger.charges[0].IdempotencyKey, f.charger.charges[2].IdempotencyKey)
}

func TestHandlePay_ProviderDown(t *testing.T) {
	f := newPaymentFixture()
	f.charger.chargeErrs = []error{errors.New("a"), errors.New("b"), errors.New("c")}

	status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 100, "currency": "usd",
	})
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "provider_error", out["error"])
	assert.Len(t, f.charger.charges, 3)
	assert.Empty(t, f.jobs.all())
}

func TestHandlePay_Declined(t *testing.T) {
	f := newPaymentFixture()
	f.charger.chargeErrs = []error{gateway.Permanent(errors.New("card declined"))}

	status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 100, "currency": "usd",
	})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "payment_declined", out["error"])
	assert.Len(t, f.charger.charges, 1)
}

func TestHandlePay_QuotaExceeded(t *testing.T) {
	f := newPaymentFixture()
	f.quota.denyOp = quota.OpAPICall

	status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 100, "currency": "usd",
	})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "quota_exceeded", out["error"])
	assert.NotEmpty(t, out["message"])
	assert.Empty(t, f.charger.charges)
}

func TestHandlePay_ChargeCap(t *testing.T) {
	f := newPaymentFixture()
	f.quota.maxCharge = 100000

	status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 150000, "currency": "usd",
	})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "charge_limit_exceeded", out["error"])
	assert.Empty(t, f.charger.charges)

	// The coupon is applied before the cap.
	status, _ = doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 150000, "currency": "usd", "coupon": "HALFOFF",
	})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestHandlePay_Validation(t *testing.T) {
	f := newPaymentFixture()

	for _, body := range []map[string]interface{}{
		{"amount": 100, "currency": "usd"},
		{"user_id": "u", "amount": 0, "currency": "usd"},
		{"user_id": "u", "amount": -5, "currency": "usd"},
		{"user_id": "u", "amount": 100, "currency": "dollars"},
	} {
		status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", body)
		assert.Equal(t, fiber.StatusBadRequest, status, body)
		assert.Equal(t, "invalid_request", out["error"])
	}
	assert.Empty(t, f.quota.calls)
}

func TestHandlePay_UnknownCoupon(t *testing.T) {
	f := newPaymentFixture()

	status, out := doJSON(t, f.app, http.MethodPost, "/api/pay", map[string]interface{}{
		"user_id": "user-1", "amount": 100, "currency": "usd", "coupon": "FREEBIE",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_coupon", out["error"])
}

func TestHandleRefund(t *testing.T) {
	f := newPaymentFixture()

	status, out := doJSON(t, f.app, http.MethodPost, "/api/refund", map[string]interface{}{
		"user_id": "user-1", "payment_id": "ch_1", "reason": "requested_by_customer",
	})
	require.Equal(t, fiber.StatusOK, status, out)
	require.Len(t, f.charger.refunds, 1)
	assert.Equal(t, "ch_1", f.charger.refunds[0].PaymentID)
	assert.NotEmpty(t, f.charger.refunds[0].IdempotencyKey)
	assert.Equal(t, []string{notify.KindRefund}, f.jobs.notifyKinds())
}

func TestHandleRefund_Rejected(t *testing.T) {
	f := newPaymentFixture()
	f.charger.refundErr = gateway.Permanent(errors.New("charge already refunded"))

	status, out := doJSON(t, f.app, http.MethodPost, "/api/refund", map[string]interface{}{
		"user_id": "user-1", "payment_id": "ch_1",
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "refund_rejected", out["error"])
	assert.Len(t, f.charger.refunds, 1)
}

func TestHandleRefund_InvalidReason(t *testing.T) {
	f := newPaymentFixture()

	status, _ := doJSON(t, f.app, http.MethodPost, "/api/refund", map[string]interface{}{
		"user_id": "user-1", "payment_id": "ch_1", "reason": "because",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Empty(t, f.charger.refunds)
}
