package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider event types handled by the payment core.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventChargeRefunded           = "charge.refunded"
)

// Metadata keys attached to checkout sessions and read back from webhooks.
const (
	MetadataIntegrityToken = "integrity_token"
	MetadataProductID      = "product_id"
	MetadataProductIDs     = "product_ids"
	MetadataItems          = "items"
	MetadataUserID         = "user_id"
	// MetadataSource marks payment intents created by a checkout session.
	MetadataSource = "source"
)

const MetadataSourceCheckout = "checkout"

// Event is a verified provider notification. Data.Object is decoded lazily by
// the typed accessors.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Created  int64     `json:"created"`
	Livemode bool      `json:"livemode"`
	Data     EventData `json:"data"`

	raw []byte
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// Raw returns the exact bytes the event was decoded from.
func (e *Event) Raw() []byte {
	return e.raw
}

// ParseEvent decodes a provider event body.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}
	ev.raw = append([]byte(nil), payload...)
	return &ev, nil
}

func (e *Event) decodeObject(expectedType string, out interface{}) error {
	if e.Type != expectedType {
		return fmt.Errorf("%w: event %s is %q, not %q", ErrInvalidPayload, e.ID, e.Type, expectedType)
	}
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("%w: event %s has no data.object", ErrInvalidPayload, e.ID)
	}
	if err := json.Unmarshal(e.Data.Object, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// CheckoutSession decodes a checkout.session.completed object.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := e.decodeObject(EventCheckoutSessionCompleted, &s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrInvalidPayload)
	}
	return &s, nil
}

// PaymentIntent decodes a payment_intent.succeeded object.
func (e *Event) PaymentIntent() (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := e.decodeObject(EventPaymentIntentSucceeded, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// Charge decodes a charge.refunded object.
func (e *Event) Charge() (*Charge, error) {
	var ch Charge
	if err := e.decodeObject(EventChargeRefunded, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	LineItems         *LineItemList     `json:"line_items,omitempty"`
}

// UserID prefers explicit metadata over the client reference.
func (s *CheckoutSession) UserID() string {
	if id := strings.TrimSpace(s.Metadata[MetadataUserID]); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

type LineItemList struct {
	Data []LineItem `json:"data"`
}

type LineItem struct {
	Quantity    int64  `json:"quantity"`
	AmountTotal int64  `json:"amount_total"`
	Price       *Price `json:"price"`
}

// ProductID returns the catalog id of the line item. Sessions created by the
// checkout service carry it on the product metadata; the price metadata and the
// provider product id are fallbacks.
func (li LineItem) ProductID() string {
	if li.Price == nil {
		return ""
	}
	if id := strings.TrimSpace(li.Price.Product.Metadata[MetadataProductID]); id != "" {
		return id
	}
	if id := strings.TrimSpace(li.Price.Metadata[MetadataProductID]); id != "" {
		return id
	}
	return strings.TrimSpace(li.Price.Product.ID)
}

type Price struct {
	ID         string            `json:"id"`
	Product    PriceProduct      `json:"product"`
	UnitAmount int64             `json:"unit_amount"`
	Metadata   map[string]string `json:"metadata"`
}

// PriceProduct is the product of a price, either a bare id or the expanded
// object.
type PriceProduct struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func (p *PriceProduct) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return nil
	case trimmed[0] == '"':
		return json.Unmarshal(trimmed, &p.ID)
	}
	type expanded PriceProduct
	var obj expanded
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*p = PriceProduct(obj)
	return nil
}

type PaymentIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type Charge struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	PaymentIntent  string            `json:"payment_intent"`
	Refunded       bool              `json:"refunded"`
	Metadata       map[string]string `json:"metadata"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}
