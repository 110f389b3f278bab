// Package jobs holds the background reclamation work the scheduler runs.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmynk/splitbot/internal/locks"
	"github.com/mmynk/splitbot/internal/metrics"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/storage"
	"github.com/mmynk/splitbot/internal/wizard"
)

// Purger drops archived copies from the files channel.
type Purger interface {
	Purge(ctx context.Context, archiveIDs ...int64) error
}

// Deps are the collaborators of a JobRunner.
type Deps struct {
	Store     storage.Store
	Wizard    *wizard.Engine
	Locks     *locks.Manager
	Archive   Purger
	Messenger platform.Messenger
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	Deps

	rejectedTTL time.Duration
	pendingTTL  time.Duration
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a JobRunner.
type Option func(*JobRunner)

func WithClock(now func() time.Time) Option {
	return func(jr *JobRunner) { jr.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(jr *JobRunner) { jr.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(jr *JobRunner) { jr.metrics = m }
}

// WithTimeout bounds one run of a sweep.
func WithTimeout(d time.Duration) Option {
	return func(jr *JobRunner) { jr.timeout = d }
}

// NewJobRunner creates a runner that reclaims rejected records after rejectedTTL and
// unanswered pending records after pendingTTL.
func NewJobRunner(deps Deps, rejectedTTL, pendingTTL time.Duration, opts ...Option) *JobRunner {
	jr := &JobRunner{
		Deps:        deps,
		rejectedTTL: rejectedTTL,
		pendingTTL:  pendingTTL,
		timeout:     time.Minute,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(jr)
	}
	return jr
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			jr.logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	start := jr.now()
	jr.logger.Debug("Starting job", "job", jobName)
	jobFunc(ctx)
	jr.logger.Debug("Job completed", "job", jobName, "duration_ms", jr.now().Sub(start).Milliseconds())
}

// ShortSweep discards expired drafts and frees abandoned locks.
func (jr *JobRunner) ShortSweep() {
	jr.runWithRecovery("short_sweep", func(ctx context.Context) {
		if _, err := jr.SweepExpiredDrafts(ctx); err != nil {
			jr.logger.Error("Failed to sweep expired drafts", "error", err)
		}
		if _, err := jr.SweepStaleLocks(ctx); err != nil {
			jr.logger.Error("Failed to release stale locks", "error", err)
		}
	})
}

// LongSweep reclaims aged rejected and pending records.
func (jr *JobRunner) LongSweep() {
	jr.runWithRecovery("long_sweep", func(ctx context.Context) {
		if _, err := jr.SweepAgedRecords(ctx); err != nil {
			jr.logger.Error("Failed to sweep aged records", "error", err)
		}
	})
}

// RunAll runs both sweeps once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ShortSweep()
	jr.LongSweep()
}
