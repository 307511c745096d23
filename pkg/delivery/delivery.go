// Package delivery retries handing a generated image to the chat transport.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultMaxRetries = 3
	DefaultInterval   = 2 * time.Second
)

// SendFunc performs one delivery attempt.
type SendFunc func(ctx context.Context) error

// Report describes how a delivery went.
type Report struct {
	Attempts int
	Waits    int
}

// Error is returned when a delivery does not go through. Exhausted is set when
// every attempt failed with a transient error.
type Error struct {
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("delivery: gave up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("delivery: attempt %d failed: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err is a delivery that ran out of attempts.
func IsExhausted(err error) bool {
	var dErr *Error
	return errors.As(err, &dErr) && dErr.Exhausted
}

// IsTimeout is the default transient classification.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Options configures a Retrier. Zero values take the defaults.
type Options struct {
	MaxRetries  int
	Interval    time.Duration
	IsTransient func(error) bool
	Logger      *zerolog.Logger
}

// Retrier sends with a fixed pause between attempts. It keeps no per-call state
// and may be shared between conversations.
type Retrier struct {
	maxRetries  int
	interval    time.Duration
	isTransient func(error) bool
	logger      zerolog.Logger
}

func NewRetrier(opts Options) *Retrier {
	r := &Retrier{
		maxRetries:  opts.MaxRetries,
		interval:    opts.Interval,
		isTransient: opts.IsTransient,
		logger:      zerolog.Nop(),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.isTransient == nil {
		r.isTransient = IsTimeout
	}
	if opts.Logger != nil {
		r.logger = *opts.Logger
	}
	return r
}

// MaxRetries is the attempt budget.
func (r *Retrier) MaxRetries() int {
	return r.maxRetries
}

// Deliver calls send until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
func (r *Retrier) Deliver(ctx context.Context, send SendFunc) (Report, error) {
	var report Report
	if err := ctx.Err(); err != nil {
		return report, &Error{Err: err}
	}

	limited := retry.WithMaxRetries(uint64(r.maxRetries-1), retry.NewConstant(r.interval))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := limited.Next()
		if !stop {
			report.Waits++
		}
		return next, stop
	})

	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		report.Attempts++
		log := r.logger.With().Int("attempt", report.Attempts).Int("max_attempts", r.maxRetries).Logger()

		sendErr := send(ctx)
		if sendErr == nil {
			log.Debug().Msg("delivered")
			return nil
		}
		lastErr = sendErr
		if r.isTransient(sendErr) {
			log.Warn().Err(sendErr).Dur("backoff", r.interval).Msg("transient delivery error")
			return retry.RetryableError(sendErr)
		}
		log.Error().Err(sendErr).Msg("delivery failed")
		return sendErr
	})
	if err == nil {
		return report, nil
	}

	if lastErr == nil {
		return report, &Error{Attempts: report.Attempts, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, lastErr) {
		return report, &Error{Attempts: report.Attempts, Err: fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)}
	}

	exhausted := r.isTransient(lastErr) && report.Attempts >= r.maxRetries
	if exhausted {
		r.logger.Error().Err(lastErr).Int("attempts", report.Attempts).Msg("delivery retries exhausted")
	}
	return report, &Error{Attempts: report.Attempts, Exhausted: exhausted, Err: lastErr}
}
