// Package provider adapts the payment provider API to the operations the payment
// core needs.
package provider

import "context"

// LineItem is one priced product in a checkout session request.
type LineItem struct {
	ProductID  string
	Name       string
	Quantity   int64
	UnitAmount int64
	Currency   string
	// Interval turns the item into a recurring price (day, week, month, year).
	Interval string
}

type CheckoutSessionRequest struct {
	Subscription bool
	LineItems    []LineItem
	SuccessURL   string
	CancelURL    string
	UserID       string
	Metadata     map[string]string
	// PaymentMetadata is copied onto the payment intent or subscription the
	// session creates, so later payment and refund events carry it too.
	PaymentMetadata map[string]string
	IdempotencyKey  string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type ChargeRequest struct {
	UserID         string
	Amount         int64
	Currency       string
	PaymentMethod  string
	Description    string
	IdempotencyKey string
}

type Charge struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
}

type RefundRequest struct {
	PaymentID      string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID        string
	PaymentID string
	Status    string
	Amount    int64
}

// Provider is the outbound surface of the payment provider. Errors that must not
// be retried are wrapped with gateway.Permanent.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	RefundCharge(ctx context.Context, req RefundRequest) (*Refund, error)
}
