// Package retry runs an attempt function under an exponential backoff policy.
// It is a thin layer over cenkalti/backoff that fixes the policy shape used by
// the sequence allocator and reports exhaustion as a distinct error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned (wrapped around the last attempt error) when every
// attempt allowed by the policy failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes an exponential backoff with jitter.
type Policy struct {
	BaseDelay   time.Duration // first wait, e.g. 100ms
	Multiplier  float64       // growth factor, e.g. 2
	MaxDelay    time.Duration // per-wait ceiling, e.g. 5s
	Jitter      float64       // randomization factor in [0,1]
	MaxAttempts uint          // total attempts including the first
}

// DefaultPolicy matches the allocator defaults.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      0.5,
		MaxAttempts: 5,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = backoff.DefaultMultiplier
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error { return backoff.Permanent(err) }

// Do calls attempt until it succeeds, returns a Permanent error, the context
// ends, or the policy runs out of attempts. On exhaustion the returned error
// matches both ErrExhausted and the last attempt error.
func Do[T any](ctx context.Context, p Policy, attempt func(context.Context) (T, error)) (T, error) {
	max := p.MaxAttempts
	if max == 0 {
		max = 1
	}
	var (
		tries     uint
		permanent error
	)
	op := func() (T, error) {
		tries++
		v, err := attempt(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = perm.Unwrap()
		}
		return v, err
	}
	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(max),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return v, nil
	}
	if permanent != nil {
		return v, permanent
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, ctxErr
	}
	if tries >= max {
		return v, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, tries, err)
	}
	return v, err
}
