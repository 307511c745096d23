package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("@every 10m"))
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.Error(t, Validate("every ten minutes"))
	assert.Error(t, Validate(""))
}

func TestAddRejectsBadSchedule(t *testing.T) {
	s := NewService(nil)
	err := s.Add("prune", "not a schedule", func(context.Context) {})
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestJobRunsAndStopCancelsContext(t *testing.T) {
	s := NewService(nil)
	var runs atomic.Int32
	cancelled := make(chan struct{})

	require.NoError(t, s.Add("prune", "@every 1s", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			<-ctx.Done()
			close(cancelled)
		}
	}))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "prune", jobs[0].Name)
	assert.Equal(t, "@every 1s", jobs[0].Schedule)

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	s.Stop()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled by Stop")
	}
	s.Stop()
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := NewService(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add("boom", "@every 1s", func(context.Context) {
		runs.Add(1)
		panic("boom")
	}))

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 10*time.Millisecond)
}
