// Package cron runs the bot's housekeeping jobs on cron schedules.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string
	Schedule string
	Next     time.Time
}

type job struct {
	name     string
	schedule string
	id       cron.EntryID
}

// Service schedules named jobs. A job still running when its next tick comes
// is skipped, and a panicking job is logged and recovered.
type Service struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    []job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewService creates a stopped service.
func NewService(logger *zerolog.Logger) *Service {
	s := &Service{logger: zerolog.Nop()}
	if logger != nil {
		s.logger = logger.With().Str("component", "cron").Logger()
	}
	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Validate reports whether spec is a standard five-field expression or a
// descriptor such as "@every 10m".
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers fn under name. fn receives a context that is cancelled by Stop.
func (s *Service) Add(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		fn(s.ctx)
		s.logger.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("cron: invalid schedule %q for %s: %w", spec, name, err)
	}
	s.jobs = append(s.jobs, job{name: name, schedule: spec, id: id})
	return nil
}

// Start begins running jobs in the background.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("cron service started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("cron service stopped")
}

// Jobs lists registered jobs ordered by next run.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{Name: j.name, Schedule: j.schedule, Next: s.cron.Entry(j.id).Next})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Next.Before(out[b].Next)
	})
	return out
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
