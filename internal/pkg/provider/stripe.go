package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/hauntedempire/paycore/internal/pkg/gateway"
)

// StripeProvider implements Provider with stripe-go.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a provider with its own API client so the global
// stripe.Key is never touched.
func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

// NewStripeProviderWithBackends is used by tests to point the client at a fake
// API server.
func NewStripeProviderWithBackends(secretKey string, backends *stripe.Backends) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if len(req.LineItems) == 0 {
		return nil, gateway.Permanent(errors.New("checkout session needs at least one line item"))
	}

	mode := stripe.CheckoutSessionModePayment
	if req.Subscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.UserID != "" {
		params.ClientReferenceID = stripe.String(req.UserID)
	}
	for _, li := range req.LineItems {
		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(li.Currency)),
			UnitAmount: stripe.Int64(li.UnitAmount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name:     stripe.String(li.Name),
				Metadata: map[string]string{"product_id": li.ProductID},
			},
		}
		if li.Interval != "" {
			priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(li.Interval),
			}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: priceData,
			Quantity:  stripe.Int64(li.Quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if len(req.PaymentMetadata) > 0 {
		if req.Subscription {
			params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: copyMetadata(req.PaymentMetadata)}
		} else {
			params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: copyMetadata(req.PaymentMetadata)}
		}
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create checkout session", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethod)
		params.Confirm = stripe.Bool(true)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.UserID != "" {
		params.AddMetadata("user_id", req.UserID)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify("create payment intent", err)
	}
	return &Charge{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
	}, nil
}

func (p *StripeProvider) RefundCharge(ctx context.Context, req RefundRequest) (*Refund, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return nil, gateway.Permanent(errors.New("refund needs a payment id"))
	}
	params := &stripe.RefundParams{}
	if strings.HasPrefix(req.PaymentID, "ch_") {
		params.Charge = stripe.String(req.PaymentID)
	} else {
		params.PaymentIntent = stripe.String(req.PaymentID)
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, classify("create refund", err)
	}
	return &Refund{
		ID:        r.ID,
		PaymentID: req.PaymentID,
		Status:    string(r.Status),
		Amount:    r.Amount,
	}, nil
}

// classify marks card errors and client-side request errors as permanent. Rate
// limits, idempotency conflicts and server errors stay retryable.
func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("stripe %s: %w", op, err)

	var se *stripe.Error
	if !errors.As(err, &se) {
		return wrapped
	}
	if se.Type == stripe.ErrorTypeCard {
		return gateway.Permanent(wrapped)
	}
	switch se.HTTPStatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusPaymentRequired,
		http.StatusForbidden, http.StatusNotFound:
		return gateway.Permanent(wrapped)
	}
	return wrapped
}
