package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mmynk/splitbot/internal/metrics"
)

// ErrDispatcherClosed is returned when work is submitted after Stop.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// DefaultShards is the number of worker queues.
const DefaultShards = 8

// DefaultShardBuffer is how many jobs a shard queues before Submit blocks.
const DefaultShardBuffer = 64

type job struct {
	kind string
	fn   func(ctx context.Context) error
}

// Dispatcher runs jobs on worker queues sharded by actor. Jobs of one actor run in
// submission order; different actors proceed in parallel. Every job has its own panic
// recovery, so one bad event never takes a worker down.
type Dispatcher struct {
	shards    []chan job
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher with the given number of shards, each buffering
// buffer jobs. Workers start immediately and run until Stop.
func NewDispatcher(shards, buffer int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if shards <= 0 {
		shards = DefaultShards
	}
	if buffer <= 0 {
		buffer = DefaultShardBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		shards:    make([]chan job, shards),
		closeChan: make(chan struct{}),
		logger:    logger,
		metrics:   m,
	}
	for i := range d.shards {
		d.shards[i] = make(chan job, buffer)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
	return d
}

func (d *Dispatcher) shard(actorID int64) chan job {
	n := uint64(actorID) % uint64(len(d.shards))
	return d.shards[n]
}

// Submit queues fn on actorID's shard. It blocks while the shard is full.
func (d *Dispatcher) Submit(ctx context.Context, actorID int64, kind string, fn func(ctx context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.shard(actorID) <- job{kind: kind, fn: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closeChan:
		return ErrDispatcherClosed
	}
}

// Executor adapts Submit to the shape timer callbacks use. Work arriving after Stop is dropped.
func (d *Dispatcher) Executor(kind string) func(userID int64, fn func(ctx context.Context)) {
	return func(userID int64, fn func(ctx context.Context)) {
		err := d.Submit(context.Background(), userID, kind, func(ctx context.Context) error {
			fn(ctx)
			return nil
		})
		if err != nil {
			d.logger.Warn("Dropped deferred work", "kind", kind, "user_id", userID, "error", err)
		}
	}
}

func (d *Dispatcher) worker(queue chan job) {
	defer d.wg.Done()

	for {
		select {
		case <-d.closeChan:
			// Drain what was accepted before Stop.
			for {
				select {
				case j := <-queue:
					d.run(j)
				default:
					return
				}
			}
		case j := <-queue:
			d.run(j)
		}
	}
}

// run executes one job with panic recovery and records its outcome.
func (d *Dispatcher) run(j job) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			d.metrics.EventPanicked()
			d.logger.Error("Event handler panicked",
				"kind", j.kind,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		d.metrics.ObserveEvent(j.kind, outcome, time.Since(start))
	}()

	if err := j.fn(context.Background()); err != nil {
		outcome = "error"
		d.logger.Error("Event handler failed", "kind", j.kind, "error", err)
	}
}

// Stop rejects new work, runs what is already queued and waits for the workers.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closeChan)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
