package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/hauntedempire/paycore/internal/pkg/gateway"
	"github.com/hauntedempire/paycore/internal/pkg/integrity"
	"github.com/hauntedempire/paycore/internal/pkg/provider"
)

var (
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrEmptyCheckout    = errors.New("checkout needs a product or at least one item")
	ErrMixedCurrency    = errors.New("all items must share one currency")
	ErrBulkSubscription = errors.New("subscriptions cannot be bought in bulk")
)

// SessionCreator creates hosted checkout sessions at the payment provider.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req provider.CheckoutSessionRequest) (*provider.CheckoutSession, error)
}

type CheckoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gte=1"`
}

// CheckoutRequest asks for either a single product or a list of items.
type CheckoutRequest struct {
	UserID     string
	ProductID  string
	Items      []CheckoutItem
	SuccessURL string
	CancelURL  string
}

type CheckoutResult struct {
	URL            string `json:"url"`
	SessionID      string `json:"session_id,omitempty"`
	Static         bool   `json:"static"`
	IntegrityToken string `json:"integrity_token,omitempty"`
	AmountTotal    int64  `json:"amount_total"`
	Currency       string `json:"currency"`
}

// CheckoutService builds provider checkout sessions from catalog products.
type CheckoutService struct {
	catalog  *Catalog
	sessions SessionCreator
	gateway  *gateway.Gateway
}

func NewCheckoutService(catalog *Catalog, sessions SessionCreator, gw *gateway.Gateway) *CheckoutService {
	return &CheckoutService{catalog: catalog, sessions: sessions, gateway: gw}
}

// CreateCheckout dispatches to the single product or bulk flow.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Items) > 0 {
		return s.CreateBulkCheckout(ctx, req)
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, ErrEmptyCheckout
	}

	product, err := s.catalog.Resolve(req.ProductID)
	if err != nil {
		return nil, err
	}
	token := integrity.ComputeToken([]integrity.Item{{ProductID: product.ID, Quantity: 1, UnitAmount: product.Amount}})

	if product.PaymentLink != "" {
		log.Debugf("[Billing] Serving static payment link for %s", product.ID)
		return &CheckoutResult{
			URL:            product.PaymentLink,
			Static:         true,
			IntegrityToken: token,
			AmountTotal:    product.Amount,
			Currency:       product.Currency,
		}, nil
	}

	metadata := map[string]string{
		MetadataIntegrityToken: token,
		MetadataProductID:      product.ID,
	}
	if req.UserID != "" {
		metadata[MetadataUserID] = req.UserID
	}

	sess, err := s.createSession(ctx, provider.CheckoutSessionRequest{
		Subscription: product.IsRecurring(),
		LineItems: []provider.LineItem{{
			ProductID:  product.ID,
			Name:       product.Name,
			Quantity:   1,
			UnitAmount: product.Amount,
			Currency:   product.Currency,
			Interval:   product.Interval,
		}},
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
		UserID:          req.UserID,
		Metadata:        metadata,
		PaymentMetadata: paymentMetadata(req.UserID),
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{
		URL:            sess.URL,
		SessionID:      sess.ID,
		IntegrityToken: token,
		AmountTotal:    product.Amount,
		Currency:       product.Currency,
	}, nil
}

// CreateBulkCheckout always creates a dynamic payment session. Every item is
// resolved before the provider is contacted.
func (s *CheckoutService) CreateBulkCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCheckout
	}

	var (
		lineItems  []provider.LineItem
		tokenItems []integrity.Item
		ids        []string
		encoded    []string
		total      int64
		currency   string
	)
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, item.ProductID)
		}
		product, err := s.catalog.Resolve(item.ProductID)
		if err != nil {
			return nil, err
		}
		if product.IsRecurring() {
			return nil, fmt.Errorf("%w: %s", ErrBulkSubscription, product.ID)
		}
		if currency == "" {
			currency = product.Currency
		} else if currency != product.Currency {
			return nil, ErrMixedCurrency
		}

		lineItems = append(lineItems, provider.LineItem{
			ProductID:  product.ID,
			Name:       product.Name,
			Quantity:   item.Quantity,
			UnitAmount: product.Amount,
			Currency:   product.Currency,
		})
		tokenItems = append(tokenItems, integrity.Item{ProductID: product.ID, Quantity: item.Quantity, UnitAmount: product.Amount})
		ids = append(ids, product.ID)
		encoded = append(encoded, product.ID+":"+strconv.FormatInt(item.Quantity, 10))
		total += product.Amount * item.Quantity
	}

	token := integrity.ComputeToken(tokenItems)
	metadata := map[string]string{
		MetadataIntegrityToken: token,
		MetadataProductIDs:     strings.Join(ids, ","),
		MetadataItems:          strings.Join(encoded, ","),
	}
	if req.UserID != "" {
		metadata[MetadataUserID] = req.UserID
	}

	sess, err := s.createSession(ctx, provider.CheckoutSessionRequest{
		LineItems:       lineItems,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
		UserID:          req.UserID,
		Metadata:        metadata,
		PaymentMetadata: paymentMetadata(req.UserID),
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{
		URL:            sess.URL,
		SessionID:      sess.ID,
		IntegrityToken: token,
		AmountTotal:    total,
		Currency:       currency,
	}, nil
}

func (s *CheckoutService) createSession(ctx context.Context, req provider.CheckoutSessionRequest) (*provider.CheckoutSession, error) {
	// One key for all attempts so a retried request cannot create a second session.
	req.IdempotencyKey = uuid.New().String()
	sess, err := gateway.Call(ctx, s.gateway, "create checkout session", func(ctx context.Context) (*provider.CheckoutSession, error) {
		return s.sessions.CreateCheckoutSession(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	log.Infof("[Billing] Created checkout session %s (%d line items)", sess.ID, len(req.LineItems))
	return sess, nil
}

// paymentMetadata tags the payment created by a session so its own events can
// be told apart from direct charges, and refunds can find the user.
func paymentMetadata(userID string) map[string]string {
	m := map[string]string{MetadataSource: MetadataSourceCheckout}
	if userID != "" {
		m[MetadataUserID] = userID
	}
	return m
}

// parseItemsMetadata decodes "id:qty,id:qty".
func parseItemsMetadata(raw string) ([]CheckoutItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var items []CheckoutItem
	for _, part := range strings.Split(raw, ",") {
		id, qty, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: bad items entry %q", ErrInvalidPayload, part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(qty), 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: bad quantity in %q", ErrInvalidPayload, part)
		}
		items = append(items, CheckoutItem{ProductID: strings.TrimSpace(id), Quantity: n})
	}
	return items, nil
}
