// Package activity wraps side-effecting operations with bounded retry
// policies. It is the only seam through which workflow control flow is
// allowed to perform I/O.
package activity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/goliatone/go-errors"

	steward "github.com/goliatone/go-steward"
)

// RetryPolicy is pure configuration for one activity invocation.
type RetryPolicy struct {
	// MaxAttempts bounds total attempts, first call included.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// BackoffCoefficient multiplies the delay after each failure.
	BackoffCoefficient float64
	// MaxInterval caps the exponential growth.
	MaxInterval time.Duration
	// StartToClose bounds a single attempt, decoupled from the overall run.
	StartToClose time.Duration
}

// DefaultRetryPolicy is applied where a caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        3,
	InitialInterval:    time.Second,
	BackoffCoefficient: 2,
	MaxInterval:        time.Minute,
	StartToClose:       5 * time.Minute,
}

// Normalize fills unset fields from DefaultRetryPolicy.
func (p RetryPolicy) Normalize() RetryPolicy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if out.BackoffCoefficient < 1 {
		out.BackoffCoefficient = DefaultRetryPolicy.BackoffCoefficient
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	if out.StartToClose <= 0 {
		out.StartToClose = DefaultRetryPolicy.StartToClose
	}
	return out
}

// Interval returns the delay before the retry following the given attempt.
// The attempt index starts at 0, incrementing after each failure.
func (p RetryPolicy) Interval(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt))
	if p.MaxInterval > 0 && time.Duration(delay) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(delay)
}

// Execute runs fn under the retry policy and returns its result, or a
// terminal exhausted error once the policy is spent. It never panics into
// the caller and never retries past context cancellation.
func Execute[T any](ctx context.Context, name string, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	policy = policy.Normalize()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelled(name, err)
		}

		result, err := runAttempt(ctx, policy.StartToClose, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}
		if err := sleep(ctx, policy.Interval(attempt)); err != nil {
			return zero, cancelled(name, err)
		}
	}

	// A run cut short by the caller is a cancellation, not exhaustion, even
	// when it happens to interrupt the final attempt.
	if err := ctx.Err(); err != nil {
		return zero, cancelled(name, err)
	}

	return zero, errors.Wrap(lastErr, errors.CategoryExternal,
		fmt.Sprintf("activity %s failed after %d attempts", name, policy.MaxAttempts)).
		WithTextCode(steward.ErrCodeRetriesExhausted).
		WithMetadata(map[string]any{
			"activity": name,
			"attempts": policy.MaxAttempts,
		})
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (result T, err error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf("activity panic: %v", r), errors.CategoryHandler)
		}
	}()
	return fn(attemptCtx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelled(name string, cause error) error {
	return errors.Wrap(cause, errors.CategoryHandler, fmt.Sprintf("activity %s cancelled", name)).
		WithTextCode(steward.ErrCodeCancelled).
		WithMetadata(map[string]any{"activity": name})
}
