// Package sweeper schedules the background maintenance jobs of a running
// service: redelivery of consensus events that never reached the sink, and
// removal of events past their retention window.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/swipematch/internal/engine"
)

// Default schedules, in standard five-field cron syntax.
const (
	DefaultRedeliverSpec = "* * * * *"
	DefaultPurgeSpec     = "0 3 * * *"
)

// Redeliverer resends pending consensus events. publish.Relay implements it.
type Redeliverer interface {
	RunOnce(ctx context.Context) (int, error)
}

// Purger deletes consensus events whose retention window has ended.
type Purger interface {
	PurgeExpiredConsensus(ctx context.Context, now time.Time) (int64, error)
}

// Config names the jobs to schedule. An empty spec disables that job.
type Config struct {
	RedeliverSpec string
	PurgeSpec     string
	// JobTimeout bounds each job run. Zero means one minute.
	JobTimeout time.Duration
}

// Sweeper owns a cron scheduler running the maintenance jobs.
type Sweeper struct {
	cron    *cron.Cron
	relay   Redeliverer
	purger  Purger
	clock   engine.Clock
	timeout time.Duration
	logger  *slog.Logger
}

// New validates the schedules and registers the jobs. relay or purger may be
// nil, in which case the matching job is not scheduled.
func New(cfg Config, relay Redeliverer, purger Purger, clock engine.Clock, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	s := &Sweeper{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		relay:   relay,
		purger:  purger,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
	}

	if relay != nil && cfg.RedeliverSpec != "" {
		if _, err := s.cron.AddFunc(cfg.RedeliverSpec, s.jobFunc("redeliver", s.Redeliver)); err != nil {
			return nil, fmt.Errorf("schedule redeliver %q: %w", cfg.RedeliverSpec, err)
		}
	}
	if purger != nil && cfg.PurgeSpec != "" {
		if _, err := s.cron.AddFunc(cfg.PurgeSpec, s.jobFunc("purge", s.Purge)); err != nil {
			return nil, fmt.Errorf("schedule purge %q: %w", cfg.PurgeSpec, err)
		}
	}
	return s, nil
}

// Jobs returns the number of scheduled jobs.
func (s *Sweeper) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started", "jobs", s.Jobs())
}

// Stop halts scheduling and returns a context that is done once running
// jobs have finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Redeliver runs one relay cycle.
func (s *Sweeper) Redeliver(ctx context.Context) error {
	n, err := s.relay.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("redeliver consensus events: %w", err)
	}
	if n > 0 {
		s.logger.Info("consensus events redelivered", "count", n)
	}
	return nil
}

// Purge deletes expired consensus events.
func (s *Sweeper) Purge(ctx context.Context) error {
	n, err := s.purger.PurgeExpiredConsensus(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("purge consensus events: %w", err)
	}
	s.logger.Info("expired consensus events purged", "count", n)
	return nil
}

func (s *Sweeper) jobFunc(name string, job func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("sweeper job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("sweeper job completed", "job", name, "elapsed", time.Since(start))
	}
}

// ValidateSpec reports whether spec parses as a standard cron schedule.
// The empty spec is valid and means "disabled".
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}
