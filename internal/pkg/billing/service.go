package billing

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/hauntedempire/paycore/app/models"
)

// Service records provider webhooks and the purchases they settle.
type Service struct {
	repo    Repository
	catalog *Catalog
}

// NewService creates a billing service from an injected repository. The catalog
// supplies authoritative unit amounts when an event carries no line items.
func NewService(repo Repository, catalog *Catalog) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, catalog *Catalog) *Service {
	return NewService(NewRepository(db), catalog)
}

// RecordWebhookEvent stores a webhook payload once per provider event id. The
// returned bool is true for the first delivery.
func (s *Service) RecordWebhookEvent(ctx context.Context, input WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	eventID := strings.TrimSpace(input.ProviderEventID)
	if provider == "" || eventID == "" {
		return false, nil, errors.New("provider and provider_event_id are required")
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(input.EventType),
		PayloadJSON:     input.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks a stored webhook event as processed.
func (s *Service) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	if id == 0 {
		return errors.New("invalid webhook event id")
	}
	return s.repo.MarkWebhookProcessed(ctx, id, processingError)
}

// HeldPurchases lists purchases waiting for manual review.
func (s *Service) HeldPurchases(ctx context.Context, limit int) ([]models.Purchase, error) {
	return s.repo.ListPurchasesByReviewStatus(ctx, models.ReviewStatusHeld, limit)
}

// FindPurchase returns the purchase for a checkout session.
func (s *Service) FindPurchase(ctx context.Context, sessionID string) (*models.Purchase, error) {
	return s.repo.FindPurchaseBySessionID(ctx, sessionID)
}
