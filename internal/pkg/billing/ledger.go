package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/integrity"
)

// RecordCompletedCheckout persists the purchase settled by a
// checkout.session.completed event. Re-deliveries of the same session update the
// existing row; an identical re-delivery leaves it untouched. An integrity
// mismatch is stored and held for review, never rejected.
func (s *Service) RecordCompletedCheckout(ctx context.Context, event *Event) (*models.Purchase, error) {
	session, err := event.CheckoutSession()
	if err != nil {
		return nil, err
	}

	fingerprint := fingerprintObject(event.Data.Object)
	existing, err := s.repo.FindPurchaseBySessionID(ctx, session.ID)
	switch {
	case err == nil:
		if existing.EventFingerprint == fingerprint {
			log.Debugf("[Billing] Session %s already recorded, skipping", session.ID)
			return existing, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to look up purchase %s: %w", session.ID, err)
	}

	purchase, tokenItems := s.buildPurchase(session)
	purchase.EventFingerprint = fingerprint
	purchase.RawEvent = string(event.Raw())
	purchase.IntegrityToken = strings.TrimSpace(session.Metadata[MetadataIntegrityToken])
	purchase.IntegrityValid = integrity.Verify(purchase.IntegrityToken, tokenItems)
	purchase.ReviewStatus = models.ReviewStatusNone
	if !purchase.IntegrityValid {
		purchase.ReviewStatus = models.ReviewStatusHeld
		log.Warnf("[Billing] Integrity mismatch for session %s, holding for review", session.ID)
	}

	if err := s.repo.UpsertPurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to store purchase %s: %w", session.ID, err)
	}
	log.Infof("[Billing] Recorded purchase %s: %d %s (integrity_valid=%t)",
		purchase.SessionID, purchase.AmountTotal, purchase.Currency, purchase.IntegrityValid)
	return purchase, nil
}

func (s *Service) buildPurchase(session *CheckoutSession) (*models.Purchase, []integrity.Item) {
	purchase := &models.Purchase{
		SessionID:   session.ID,
		UserID:      session.UserID(),
		Mode:        normalizeMode(session.Mode),
		AmountTotal: session.AmountTotal,
		Currency:    normalizeCurrency(session.Currency),
	}

	items := s.lineItems(session)

	// A single unit of one product is recorded as a single purchase.
	if len(items) == 1 && items[0].Quantity == 1 && session.Metadata[MetadataItems] == "" {
		purchase.ProductID = items[0].ProductID
	} else {
		purchase.Items = items
	}

	tokenItems := make([]integrity.Item, 0, len(items))
	for _, it := range items {
		tokenItems = append(tokenItems, integrity.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitAmount: it.UnitAmount})
	}
	return purchase, tokenItems
}

// lineItems reconstructs what was bought. Provider line items win; otherwise
// the metadata written at session creation is priced from the catalog. It
// returns nil when the session says nothing about its contents; such a
// purchase is still stored and fails the integrity check.
func (s *Service) lineItems(session *CheckoutSession) []models.PurchaseItem {
	if session.LineItems != nil && len(session.LineItems.Data) > 0 {
		items := make([]models.PurchaseItem, 0, len(session.LineItems.Data))
		for _, li := range session.LineItems.Data {
			qty := li.Quantity
			if qty < 1 {
				qty = 1
			}
			var unit int64
			if li.Price != nil {
				unit = li.Price.UnitAmount
			}
			if unit == 0 && li.AmountTotal > 0 {
				unit = li.AmountTotal / qty
			}
			lineTotal := li.AmountTotal
			if lineTotal == 0 {
				lineTotal = unit * qty
			}
			items = append(items, models.PurchaseItem{ProductID: li.ProductID(), Quantity: qty, UnitAmount: unit, LineTotal: lineTotal})
		}
		return items
	}

	requested, err := parseItemsMetadata(session.Metadata[MetadataItems])
	if err != nil {
		log.Warnf("[Billing] Session %s has unreadable items metadata: %v", session.ID, err)
		return nil
	}
	if len(requested) == 0 {
		productID := strings.TrimSpace(session.Metadata[MetadataProductID])
		if productID == "" {
			// Static payment links create sessions without our metadata.
			log.Warnf("[Billing] Session %s carries no line items or product metadata", session.ID)
			return nil
		}
		return []models.PurchaseItem{{ProductID: productID, Quantity: 1, UnitAmount: session.AmountTotal, LineTotal: session.AmountTotal}}
	}
	return s.priceItems(requested, session.AmountTotal)
}

// priceItems uses catalog prices when every product has one. Otherwise each
// unit is priced at floor(total/quantity) and the remainder lands on the last
// line so the lines still sum to total.
func (s *Service) priceItems(requested []CheckoutItem, total int64) []models.PurchaseItem {
	items := make([]models.PurchaseItem, len(requested))
	complete := true
	var totalQty int64
	for i, r := range requested {
		items[i] = models.PurchaseItem{ProductID: r.ProductID, Quantity: r.Quantity}
		totalQty += r.Quantity
		unit, ok := s.catalog.UnitAmount(r.ProductID)
		if !ok {
			complete = false
			continue
		}
		items[i].UnitAmount = unit
		items[i].LineTotal = unit * r.Quantity
	}
	if complete {
		return items
	}

	unit := total / totalQty
	var sum int64
	for i := range items {
		items[i].UnitAmount = unit
		items[i].LineTotal = unit * items[i].Quantity
		sum += items[i].LineTotal
	}
	items[len(items)-1].LineTotal += total - sum
	return items
}

func fingerprintObject(object []byte) string {
	sum := sha256.Sum256(object)
	return hex.EncodeToString(sum[:])
}
