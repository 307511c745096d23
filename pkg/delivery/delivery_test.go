package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func scripted(errs ...error) (SendFunc, *int) {
	calls := 0
	return func(ctx context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func TestDeliverSucceedsOnThirdAttempt(t *testing.T) {
	r := NewRetrier(Options{Interval: time.Millisecond})
	send, calls := scripted(timeoutError{}, context.DeadlineExceeded)

	report, err := r.Deliver(context.Background(), send)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, 2, report.Waits)
	assert.Equal(t, 3, *calls)
}

func TestDeliverExhaustsOnRepeatedTimeouts(t *testing.T) {
	r := NewRetrier(Options{Interval: time.Millisecond})
	send, calls := scripted(timeoutError{}, timeoutError{}, timeoutError{}, timeoutError{})

	report, err := r.Deliver(context.Background(), send)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, 2, report.Waits)
	assert.Equal(t, 3, *calls)

	var dErr *Error
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, 3, dErr.Attempts)
	assert.ErrorIs(t, err, timeoutError{})
}

func TestDeliverStopsOnNonTransientError(t *testing.T) {
	r := NewRetrier(Options{Interval: time.Millisecond})
	rejected := errors.New("Bad Request: chat not found")
	send, calls := scripted(rejected)

	report, err := r.Deliver(context.Background(), send)
	require.Error(t, err)
	assert.False(t, IsExhausted(err))
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, report.Attempts)
	assert.Zero(t, report.Waits)
	assert.Equal(t, 1, *calls)
}

func TestDeliverWaitsTheConfiguredInterval(t *testing.T) {
	r := NewRetrier(Options{MaxRetries: 2, Interval: 30 * time.Millisecond})
	send, _ := scripted(timeoutError{})

	start := time.Now()
	report, err := r.Deliver(context.Background(), send)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Waits)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDeliverCustomClassifier(t *testing.T) {
	flaky := errors.New("Too Many Requests")
	r := NewRetrier(Options{
		Interval:    time.Millisecond,
		IsTransient: func(err error) bool { return errors.Is(err, flaky) },
	})
	send, _ := scripted(flaky, timeoutError{})

	report, err := r.Deliver(context.Background(), send)
	require.Error(t, err)
	assert.False(t, IsExhausted(err), "timeouts are not transient for this classifier")
	assert.Equal(t, 2, report.Attempts)
}

func TestDeliverCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetrier(Options{Interval: time.Millisecond})
	send, calls := scripted()

	_, err := r.Deliver(ctx, send)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
}

func TestNewRetrierDefaults(t *testing.T) {
	r := NewRetrier(Options{})
	assert.Equal(t, DefaultMaxRetries, r.MaxRetries())
	assert.Equal(t, DefaultInterval, r.interval)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("send photo: %w", os.ErrDeadlineExceeded)))
	assert.True(t, IsTimeout(&net.OpError{Op: "read", Err: timeoutError{}}))
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(errors.New("forbidden")))
	assert.False(t, IsTimeout(context.Canceled))
}
