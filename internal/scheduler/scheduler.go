package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the work the scheduler runs.
type Sweeper interface {
	ShortSweep()
	LongSweep()
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers the short and long sweeps on their cron specs. Specs accept the
// six-field form with seconds as well as descriptors like "@every 60s".
func NewScheduler(jobs Sweeper, shortSpec, longSpec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Create cron with UTC timezone and seconds precision
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		// A sweep still running when its next tick comes is not started twice.
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &Scheduler{cron: c, logger: logger}
	if err := s.register("short_sweep", shortSpec, jobs.ShortSweep); err != nil {
		return nil, err
	}
	if err := s.register("long_sweep", longSpec, jobs.LongSweep); err != nil {
		return nil, err
	}
	s.logger.Info("All cron jobs registered successfully", "short", shortSpec, "long", longSpec)
	return s, nil
}

func (s *Scheduler) register(name, spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("failed to register %s job: %w", name, err)
	}
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop waits for running jobs and stops the cron scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

// IsRunning returns true if the scheduler has jobs registered
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}
