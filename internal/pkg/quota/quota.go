// Package quota enforces per-tier usage limits with atomic counter updates.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/app/repository"
	"github.com/hauntedempire/paycore/internal/pkg/entitlements"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
)

type Operation string

const (
	OpAPICall  Operation = "api_call"
	OpLoreDrop Operation = "lore_drop"
)

var ErrUnknownOperation = errors.New("unknown quota operation")

// Decision is the outcome of a quota check. A deny is a normal outcome, not an
// error.
type Decision struct {
	Allowed   bool
	Operation Operation
	Tier      entitlements.Tier
	Limit     int64
	Reason    string
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload jobqueue.Payload) (*models.Job, error)
}

// Enforcer checks and counts usage per user.
type Enforcer struct {
	accounts repository.AccountRepository
	jobs     Enqueuer
}

func NewEnforcer(accounts repository.AccountRepository, jobs Enqueuer) *Enforcer {
	return &Enforcer{accounts: accounts, jobs: jobs}
}

// CheckAndIncrement counts one use of op when the user is below the limit of
// their current tier. Tier and count are checked in the same UPDATE, so
// concurrent requests cannot jointly pass the limit. The first denied request
// after the limit is reached enqueues one limit notification.
func (e *Enforcer) CheckAndIncrement(ctx context.Context, userID string, op Operation) (Decision, error) {
	counter, err := counterFor(op)
	if err != nil {
		return Decision{}, err
	}
	limits := limitsFor(op)

	if _, err := e.accounts.GetOrCreate(ctx, userID); err != nil {
		return Decision{}, fmt.Errorf("failed to load account %s: %w", userID, err)
	}

	allowed, err := e.accounts.IncrementUsage(ctx, userID, counter, limits)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count %s for %s: %w", op, userID, err)
	}

	account, err := e.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load account %s: %w", userID, err)
	}
	tier := entitlements.NormalizeTier(account.Tier)
	decision := Decision{
		Allowed:   allowed,
		Operation: op,
		Tier:      tier,
		Limit:     limits[string(tier)],
	}
	if allowed {
		return decision, nil
	}

	decision.Reason = fmt.Sprintf("%s tier limit of %d %s reached", tier, decision.Limit, op)

	crossed, err := e.accounts.MarkLimitCrossed(ctx, userID, counter, limits)
	if err != nil {
		log.Errorf("[Quota] Failed to mark limit crossing for %s: %v", userID, err)
		return decision, nil
	}
	if crossed {
		log.Infof("[Quota] %s reached the %s limit (%s tier)", userID, op, tier)
		e.notify(ctx, fmt.Sprintf("User %s hit the %s", userID, decision.Reason))
	}
	return decision, nil
}

// CheckChargeAmount applies the per-tier cap on a single charge.
func (e *Enforcer) CheckChargeAmount(ctx context.Context, userID string, amount int64) (Decision, error) {
	account, err := e.accounts.GetOrCreate(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load account %s: %w", userID, err)
	}
	tier := entitlements.NormalizeTier(account.Tier)
	max := entitlements.MaxChargeAmount(tier)
	decision := Decision{Allowed: true, Operation: "charge", Tier: tier, Limit: max}
	if max > 0 && amount > max {
		decision.Allowed = false
		decision.Reason = fmt.Sprintf("%s tier charge limit of %d exceeded", tier, max)
		e.notify(ctx, fmt.Sprintf("User %s attempted a charge of %d above the %s", userID, amount, decision.Reason))
	}
	return decision, nil
}

func (e *Enforcer) notify(ctx context.Context, message string) {
	if e.jobs == nil {
		return
	}
	if _, err := e.jobs.Enqueue(ctx, jobqueue.NotifyPayload{Kind: notify.KindLimit, Message: message}); err != nil {
		log.Errorf("[Quota] Failed to enqueue limit notification: %v", err)
	}
}

func counterFor(op Operation) (repository.UsageCounter, error) {
	switch op {
	case OpAPICall:
		return repository.CounterAPICalls, nil
	case OpLoreDrop:
		return repository.CounterLoreDrops, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func limitsFor(op Operation) repository.TierLimits {
	limits := repository.TierLimits{}
	for _, tier := range []entitlements.Tier{entitlements.TierFree, entitlements.TierPremium, entitlements.TierEnterprise} {
		l := entitlements.LimitsFor(tier)
		if op == OpLoreDrop {
			limits[string(tier)] = l.MaxLoreDrops
		} else {
			limits[string(tier)] = l.MaxAPICalls
		}
	}
	return limits
}
