// Package gateway runs outbound provider calls under a bounded retry policy.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/internal/pkg/config"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// Gateway holds the retry policy. Attempt n failing is followed by a sleep of
// n*BaseDelay before attempt n+1.
type Gateway struct {
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a gateway from configuration.
func New(cfg config.Gateway) *Gateway {
	g := NewWithPolicy(cfg.Attempts, cfg.BaseDelay)
	g.timeout = cfg.Timeout
	return g
}

// NewWithPolicy builds a gateway without an overall timeout.
func NewWithPolicy(attempts int, baseDelay time.Duration) *Gateway {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Gateway{attempts: attempts, baseDelay: baseDelay, sleep: sleepContext}
}

// Attempts returns the attempt budget.
func (g *Gateway) Attempts() int {
	return g.attempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. a declined card.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Call runs action until it succeeds, returns a permanent error or the attempt
// budget is spent. The last attempt's error is returned as is, so callers can
// still test a permanent error with IsPermanent. When ctx ends
// during a backoff the last error is joined with ctx.Err().
func Call[T any](ctx context.Context, g *Gateway, name string, action func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil {
		g = NewWithPolicy(DefaultAttempts, DefaultBaseDelay)
	}
	if g.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
	}

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return zero, err
			}
			return zero, errors.Join(lastErr, err)
		}

		result, err := action(ctx)
		if err == nil {
			if attempt > 1 {
				log.Infof("[Gateway] %s succeeded on attempt %d/%d", name, attempt, g.attempts)
			}
			return result, nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			log.Warnf("[Gateway] %s failed permanently on attempt %d: %v", name, attempt, p.err)
			return zero, err
		}

		lastErr = err
		log.Warnf("[Gateway] %s attempt %d/%d failed: %v", name, attempt, g.attempts, err)
		if attempt == g.attempts {
			break
		}
		if err := g.sleep(ctx, time.Duration(attempt)*g.baseDelay); err != nil {
			return zero, errors.Join(lastErr, err)
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
