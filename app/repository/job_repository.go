package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hauntedempire/paycore/app/models"
)

const pendingStatus = "pending"

// jobRepository implements the JobRepository interface
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create stores a new job
func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get retrieves a job by id
func (r *jobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Finish moves a pending job to a terminal status. It reports false when the
// job was not pending.
func (r *jobRepository) Finish(ctx context.Context, id string, status string, errorMsg string) (bool, error) {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, pendingStatus).
		Updates(map[string]interface{}{
			"status":       status,
			"error_msg":    errorMsg,
			"completed_at": &now,
			"updated_at":   now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// List returns the newest jobs, filtered by status when it is not empty
func (r *jobRepository) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []models.Job
	err := q.Find(&jobs).Error
	return jobs, err
}

// CountByStatus counts jobs per status
func (r *jobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
