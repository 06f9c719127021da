package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hauntedempire/paycore/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	FindPurchaseBySessionID(ctx context.Context, sessionID string) (*models.Purchase, error)
	UpsertPurchase(ctx context.Context, purchase *models.Purchase) error
	ListPurchasesByReviewStatus(ctx context.Context, status string, limit int) ([]models.Purchase, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPurchaseBySessionID(ctx context.Context, sessionID string) (*models.Purchase, error) {
	var p models.Purchase
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPurchase inserts or overwrites the row for purchase.SessionID and
// reloads it so ID and timestamps reflect the stored row.
func (r *gormRepository) UpsertPurchase(ctx context.Context, purchase *models.Purchase) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"mode",
			"amount_total",
			"currency",
			"product_id",
			"items",
			"integrity_token",
			"integrity_valid",
			"review_status",
			"event_fingerprint",
			"raw_event",
			"updated_at",
		}),
	}).Create(purchase).Error; err != nil {
		return err
	}

	return db.Where("session_id = ?", purchase.SessionID).First(purchase).Error
}

func (r *gormRepository) ListPurchasesByReviewStatus(ctx context.Context, status string, limit int) ([]models.Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	var purchases []models.Purchase
	err := r.db.WithContext(ctx).
		Where("review_status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&purchases).Error
	return purchases, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
