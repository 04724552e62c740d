package backoff

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/maheshrc27/threadflow/internal/clock"
)

var ErrExhausted = errors.New("backoff: polling budget exhausted")

type Policy struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
	// Deadline bounds the whole poll regardless of attempts left. Zero means none.
	Deadline time.Duration
}

// ExtractionPolicy is used while waiting on a video extraction run.
func ExtractionPolicy() Policy {
	return Policy{
		Initial:     1500 * time.Millisecond,
		Multiplier:  1.25,
		Max:         8 * time.Second,
		MaxAttempts: 40,
		Deadline:    6 * time.Minute,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Check is called after every wait. done=true ends the poll successfully and a
// non-nil error ends it with that error.
type Check func(ctx context.Context, attempt int) (done bool, err error)

// Poll waits Delay(attempt) before each check until the check finishes, the
// attempts run out or the deadline passes (both ErrExhausted), or the parent
// context is canceled.
func Poll(ctx context.Context, clk clock.Clock, p Policy, check Check) error {
	parent := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := clk.Sleep(ctx, p.Delay(attempt)); err != nil {
			if parent.Err() != nil {
				return parent.Err()
			}
			return ErrExhausted
		}

		done, err := check(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}
