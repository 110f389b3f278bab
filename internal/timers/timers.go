// Package timers is a registry of cancellable delayed tasks keyed by name.
//
// Scheduling a key that already has a pending task replaces it, which is what the attachment
// debounce relies on: each arrival pushes the deadline back instead of adding a second run.
package timers

import (
	"sync"
	"time"
)

// Timer is the handle of a scheduled function.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through a small adapter.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type entry struct {
	timer Timer
	gen   uint64
}

// Registry owns every pending task.
type Registry struct {
	mu      sync.Mutex
	after   AfterFunc
	tasks   map[string]entry
	gen     uint64
	stopped bool
	running sync.WaitGroup
}

// New creates a Registry backed by time.AfterFunc.
func New() *Registry {
	return NewWithAfterFunc(realAfterFunc)
}

// NewWithAfterFunc creates a Registry using after to arm timers.
func NewWithAfterFunc(after AfterFunc) *Registry {
	return &Registry{
		after: after,
		tasks: make(map[string]entry),
	}
}

// Schedule runs fn after delay unless the key is rescheduled or cancelled first.
// It returns false once the registry is stopped.
func (r *Registry) Schedule(key string, delay time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}
	if prev, ok := r.tasks[key]; ok {
		prev.timer.Stop()
	}

	r.gen++
	gen := r.gen
	timer := r.after(delay, func() { r.fire(key, gen, fn) })
	r.tasks[key] = entry{timer: timer, gen: gen}
	return true
}

// fire runs fn only if the task was not replaced or cancelled in the meantime. A timer
// whose Stop lost the race still arrives here and is discarded by the generation check.
func (r *Registry) fire(key string, gen uint64, fn func()) {
	r.mu.Lock()
	current, ok := r.tasks[key]
	if !ok || current.gen != gen || r.stopped {
		r.mu.Unlock()
		return
	}
	delete(r.tasks, key)
	r.running.Add(1)
	r.mu.Unlock()

	defer r.running.Done()
	fn()
}

// Cancel drops the pending task for key and reports whether there was one.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.tasks, key)
	return true
}

// Pending reports whether key has a task waiting to run.
func (r *Registry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Stop cancels every pending task, refuses new ones and waits for running tasks to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	for key, e := range r.tasks {
		e.timer.Stop()
		delete(r.tasks, key)
	}
	r.mu.Unlock()

	r.running.Wait()
}
