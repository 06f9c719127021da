package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/entitlements"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// GetByUserID retrieves an account by user id
func (r *accountRepository) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreate returns the account of userID, creating a free one if missing
func (r *accountRepository) GetOrCreate(ctx context.Context, userID string) (*models.Account, error) {
	account := &models.Account{UserID: userID, Tier: string(entitlements.TierFree)}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(account).Error; err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

// Upgrade moves the account to premium and records the payment. Enterprise
// accounts keep their tier. Limit notifications are re-armed for the new tier.
func (r *accountRepository) Upgrade(ctx context.Context, userID, paymentRef string, amount int64) (*models.Account, error) {
	account := &models.Account{
		UserID:            userID,
		Tier:              string(entitlements.TierPremium),
		LastPayment:       paymentRef,
		LastPaymentAmount: amount,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "tier"}, Value: keepEnterprise(entitlements.TierPremium)},
			{Column: clause.Column{Name: "last_payment"}, Value: paymentRef},
			{Column: clause.Column{Name: "last_payment_amount"}, Value: amount},
			{Column: clause.Column{Name: "api_call_limit_notified"}, Value: false},
			{Column: clause.Column{Name: "lore_drop_limit_notified"}, Value: false},
			{Column: clause.Column{Name: "updated_at"}, Value: time.Now()},
		},
	}).Create(account).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

// Downgrade moves the account to free and records the refund. Enterprise
// accounts keep their tier.
func (r *accountRepository) Downgrade(ctx context.Context, userID, refundRef string, amount int64) (*models.Account, error) {
	account := &models.Account{
		UserID:           userID,
		Tier:             string(entitlements.TierFree),
		LastRefund:       refundRef,
		LastRefundAmount: amount,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "tier"}, Value: keepEnterprise(entitlements.TierFree)},
			{Column: clause.Column{Name: "last_refund"}, Value: refundRef},
			{Column: clause.Column{Name: "last_refund_amount"}, Value: amount},
			{Column: clause.Column{Name: "api_call_limit_notified"}, Value: false},
			{Column: clause.Column{Name: "lore_drop_limit_notified"}, Value: false},
			{Column: clause.Column{Name: "updated_at"}, Value: time.Now()},
		},
	}).Create(account).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

func keepEnterprise(target entitlements.Tier) clause.Expr {
	return gorm.Expr("CASE WHEN tier = ? THEN tier ELSE ? END", string(entitlements.TierEnterprise), string(target))
}

// IncrementUsage adds one to counter when it is below the tier limit, in a
// single conditional UPDATE. It reports whether the increment happened.
func (r *accountRepository) IncrementUsage(ctx context.Context, userID string, counter UsageCounter, limits TierLimits) (bool, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return false, err
	}
	limitExpr, args := limitCase(limits)
	tx := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ? AND "+col+" < "+limitExpr, append([]interface{}{userID}, args...)...).
		Updates(map[string]interface{}{
			col:          gorm.Expr(col + " + 1"),
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// MarkLimitCrossed flags counter as notified when it is at or above the tier
// limit. Only the first denied request per tier gets true, including accounts
// that were already past the limit of a lower tier.
func (r *accountRepository) MarkLimitCrossed(ctx context.Context, userID string, counter UsageCounter, limits TierLimits) (bool, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return false, err
	}
	flag := notifiedColumn(counter)
	limitExpr, args := limitCase(limits)
	tx := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ? AND "+flag+" = ? AND "+col+" >= "+limitExpr, append([]interface{}{userID, false}, args...)...).
		Updates(map[string]interface{}{
			flag:         true,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func notifiedColumn(counter UsageCounter) string {
	if counter == CounterLoreDrops {
		return "lore_drop_limit_notified"
	}
	return "api_call_limit_notified"
}

func counterColumn(counter UsageCounter) (string, error) {
	switch counter {
	case CounterAPICalls, CounterLoreDrops:
		return string(counter), nil
	default:
		return "", fmt.Errorf("unknown usage counter %q", counter)
	}
}

// limitCase renders "CASE tier WHEN ? THEN ? ... ELSE ? END" with the free limit
// as fallback.
func limitCase(limits TierLimits) (string, []interface{}) {
	tiers := make([]string, 0, len(limits))
	for tier := range limits {
		if tier != string(entitlements.TierFree) {
			tiers = append(tiers, tier)
		}
	}
	sort.Strings(tiers)

	var b strings.Builder
	args := make([]interface{}, 0, len(tiers)*2+1)
	b.WriteString("CASE tier")
	for _, tier := range tiers {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, tier, limits[tier])
	}
	b.WriteString(" ELSE ? END")
	args = append(args, limits[string(entitlements.TierFree)])
	return "(" + b.String() + ")", args
}
