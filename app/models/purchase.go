package models

import "time"

const (
	PurchaseModePayment      = "payment"
	PurchaseModeSubscription = "subscription"
)

const (
	ReviewStatusNone = "none"
	ReviewStatusHeld = "held"
)

// PurchaseItem is one line of a bulk purchase.
type PurchaseItem struct {
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"`
	LineTotal  int64  `json:"line_total"`
}

// Purchase mirrors one completed provider checkout session. SessionID is the
// idempotency key: re-deliveries update the row, never add one.
type Purchase struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	SessionID        string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_purchases_session_id" json:"session_id"`
	UserID           string         `gorm:"type:varchar(191);not null;default:'';index" json:"user_id"`
	Mode             string         `gorm:"type:varchar(20);not null;default:'payment'" json:"mode"`
	AmountTotal      int64          `gorm:"not null;default:0" json:"amount_total"`
	Currency         string         `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	ProductID        string         `gorm:"type:varchar(191);not null;default:''" json:"product_id,omitempty"`
	Items            []PurchaseItem `gorm:"serializer:json;type:text" json:"items,omitempty"`
	IntegrityToken   string         `gorm:"type:varchar(64);not null;default:''" json:"integrity_token"`
	IntegrityValid   bool           `gorm:"not null;default:false;index" json:"integrity_valid"`
	ReviewStatus     string         `gorm:"type:varchar(20);not null;default:'none';index" json:"review_status"`
	EventFingerprint string         `gorm:"type:varchar(64);not null;default:''" json:"-"`
	RawEvent         string         `gorm:"type:longtext" json:"-"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsBulk reports whether the purchase carries line items rather than a single
// product.
func (p *Purchase) IsBulk() bool {
	return len(p.Items) > 0
}
