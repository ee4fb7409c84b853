package kernel

import (
	"context"
	"math"
	"math/rand"
	"time"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

// RetryConfig configures retry behavior for read-only calls.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig returns sensible defaults for listing calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// RetryWithResult runs fn until it succeeds, returns a non-transport error,
// or attempts run out.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return result, errors.Wrap(ctx.Err(), errors.KindTransport, "listing canceled")
		default:
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.IsKind(err, errors.KindTransport) {
			return result, err
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return result, errors.Wrap(ctx.Err(), errors.KindTransport, "listing canceled")
		case <-time.After(calculateDelay(attempt, cfg)):
		}
	}

	return result, lastErr
}

func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))

	if cfg.Jitter {
		// up to 25% jitter
		delay += delay * 0.25 * rand.Float64()
	}

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}

// retryingCollaborator retries ListRuleset on transport errors. Mutations pass
// through untouched and are never retried.
type retryingCollaborator struct {
	Collaborator
	cfg RetryConfig
}

// WithRetry wraps c so that listings are retried on transport errors.
// A Replacer stays a Replacer.
func WithRetry(c Collaborator, cfg RetryConfig) Collaborator {
	rc := &retryingCollaborator{Collaborator: c, cfg: cfg}
	if r, ok := c.(Replacer); ok {
		return &retryingReplacer{retryingCollaborator: rc, replacer: r}
	}
	return rc
}

func (r *retryingCollaborator) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	return RetryWithResult(ctx, r.cfg, func() (*ruleset.Ruleset, error) {
		return r.Collaborator.ListRuleset(ctx)
	})
}

type retryingReplacer struct {
	*retryingCollaborator
	replacer Replacer
}

func (r *retryingReplacer) ReplaceRule(ctx context.Context, old ruleset.RuleRef, req AddRequest) (uint64, error) {
	return r.replacer.ReplaceRule(ctx, old, req)
}
