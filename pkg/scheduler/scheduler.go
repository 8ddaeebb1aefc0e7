// Package scheduler drives run execution: it polls for due runs, leases them
// in batches, and hands each leased run to the executor. Durable waits mean
// nothing blocks between steps; the poll loop is the only clock the engine
// needs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/executor"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultLeaseDuration = 2 * time.Minute
	defaultBatchSize     = 50

	// Waiting runs whose resume time elapsed this long ago get reported by
	// the starvation sweep. They are an alert about worker capacity, never
	// an error on the run itself.
	starvationThreshold = 15 * time.Minute
	starvationSchedule  = "*/5 * * * *"
)

// Config tunes the poll loop. Zero values fall back to defaults.
type Config struct {
	PollInterval  time.Duration
	LeaseDuration time.Duration
	BatchSize     int
}

// Scheduler owns the worker's lease-and-execute loop.
type Scheduler struct {
	workerID    string
	persistence persistence.Persistence
	executor    *executor.Executor
	clock       clock.Clock
	logger      *slog.Logger
	config      Config
	wake        chan struct{}
	cron        *cron.Cron
}

func NewScheduler(workerID string, p persistence.Persistence, exec *executor.Executor, clk clock.Clock, config Config, logger *slog.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}

	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}

	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}

	return &Scheduler{
		workerID:    workerID,
		persistence: p,
		executor:    exec,
		clock:       clk,
		logger:      logger.With("module", "scheduler", "worker_id", workerID),
		config:      config,
		wake:        make(chan struct{}, 1),
	}
}

// Wake nudges the poll loop ahead of its next tick. Called when a run is
// known to have just become due, such as after dispatch.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the poll loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler starting",
		"poll_interval", s.config.PollInterval,
		"lease_duration", s.config.LeaseDuration,
		"batch_size", s.config.BatchSize)

	s.startStarvationSweep(ctx)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.pollOnce(ctx)

		select {
		case <-ctx.Done():
			if s.cron != nil {
				<-s.cron.Stop().Done()
			}

			s.logger.InfoContext(ctx, "Scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// pollOnce leases one batch of due runs and executes each. Draining the
// batch before sleeping keeps throughput tied to load, not poll cadence.
func (s *Scheduler) pollOnce(ctx context.Context) {
	for {
		runs, err := s.persistence.LeaseRuns(ctx, s.workerID, s.clock.Now(), s.config.LeaseDuration, s.config.BatchSize)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to lease runs", "error", err)

			return
		}

		if len(runs) == 0 {
			return
		}

		s.logger.DebugContext(ctx, "Leased runs", "count", len(runs))

		for _, run := range runs {
			if ctx.Err() != nil {
				return
			}

			s.executeRun(ctx, run)
		}

		if len(runs) < s.config.BatchSize {
			return
		}
	}
}

func (s *Scheduler) executeRun(ctx context.Context, run *models.JourneyRun) {
	err := s.executor.ExecuteStep(ctx, run)
	if err == nil {
		return
	}

	if persistence.IsVersionConflict(err) {
		// Another writer won the CAS; their state stands.
		s.logger.WarnContext(ctx, "Step lost version race", "run_id", run.ID)

		return
	}

	if errors.Is(err, context.Canceled) {
		return
	}

	// Infrastructure error, not a run outcome. The lease expires and the
	// run gets re-leased; at-least-once semantics cover the replay.
	s.logger.ErrorContext(ctx, "Step execution failed", "run_id", run.ID, "error", err)
}

// startStarvationSweep periodically reports waiting runs whose resume time
// elapsed long ago, which signals the workers are not keeping up.
func (s *Scheduler) startStarvationSweep(ctx context.Context) {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(starvationSchedule, func() {
		starved, err := s.persistence.StarvedRuns(ctx, s.clock.Now(), starvationThreshold)
		if err != nil {
			s.logger.ErrorContext(ctx, "starvation sweep failed", "error", err)

			return
		}

		if len(starved) == 0 {
			return
		}

		s.logger.WarnContext(ctx, "Starved runs detected",
			"count", len(starved), "threshold", starvationThreshold)

		for _, run := range starved {
			s.logger.WarnContext(ctx, "Run overdue",
				"run_id", run.ID, "journey_id", run.JourneyID, "resume_at", run.ResumeAt)
		}
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to schedule starvation sweep", "error", err)

		return
	}

	s.cron.Start()
}
