package models

import "time"

// Account holds the tier and usage counters of one user. Tier changes are only
// written by verified payment events.
type Account struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        string `gorm:"type:varchar(191);not null;uniqueIndex:ux_accounts_user_id" json:"user_id"`
	Tier          string `gorm:"type:varchar(20);not null;default:'free';index" json:"tier"`
	APICallCount  int64  `gorm:"column:api_call_count;not null;default:0" json:"api_call_count"`
	LoreDropCount int64  `gorm:"column:lore_drop_count;not null;default:0" json:"lore_drop_count"`
	// Set once a limit notification went out for the current tier.
	APICallLimitNotified  bool      `gorm:"column:api_call_limit_notified;not null;default:false" json:"api_call_limit_notified"`
	LoreDropLimitNotified bool      `gorm:"column:lore_drop_limit_notified;not null;default:false" json:"lore_drop_limit_notified"`
	LastPayment           string    `gorm:"type:varchar(191);not null;default:''" json:"last_payment"`
	LastPaymentAmount     int64     `gorm:"not null;default:0" json:"last_payment_amount"`
	LastRefund            string    `gorm:"type:varchar(191);not null;default:''" json:"last_refund"`
	LastRefundAmount      int64     `gorm:"not null;default:0" json:"last_refund_amount"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
