package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/hauntedempire/paycore/app/models"
)

// UsageCounter names a quota counter column on accounts.
type UsageCounter string

const (
	CounterAPICalls  UsageCounter = "api_call_count"
	CounterLoreDrops UsageCounter = "lore_drop_count"
)

// TierLimits maps tier names to a counter limit. Tiers missing from the map use
// the "free" entry.
type TierLimits map[string]int64

// AccountRepository defines the interface for account-related database operations
type AccountRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Account, error)
	GetOrCreate(ctx context.Context, userID string) (*models.Account, error)
	Upgrade(ctx context.Context, userID, paymentRef string, amount int64) (*models.Account, error)
	Downgrade(ctx context.Context, userID, refundRef string, amount int64) (*models.Account, error)
	IncrementUsage(ctx context.Context, userID string, counter UsageCounter, limits TierLimits) (bool, error)
	MarkLimitCrossed(ctx context.Context, userID string, counter UsageCounter, limits TierLimits) (bool, error)
}

// JobRepository defines the interface for job-related database operations
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Finish(ctx context.Context, id string, status string, errorMsg string) (bool, error)
	List(ctx context.Context, status string, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account AccountRepository
	Job     JobRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account: NewAccountRepository(db),
		Job:     NewJobRepository(db),
	}
}
