package timers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock arms timers that only fire when the test advances time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every due timer in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func TestScheduleRunsOnce(t *testing.T) {
	clk := &fakeClock{}
	r := NewWithAfterFunc(clk.AfterFunc)

	runs := 0
	require.True(t, r.Schedule("a", time.Second, func() { runs++ }))
	assert.True(t, r.Pending("a"))

	clk.Advance(999 * time.Millisecond)
	assert.Zero(t, runs)

	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, runs)
	assert.False(t, r.Pending("a"))

	clk.Advance(time.Hour)
	assert.Equal(t, 1, runs)
}

func TestRescheduleResetsDeadline(t *testing.T) {
	clk := &fakeClock{}
	r := NewWithAfterFunc(clk.AfterFunc)

	var got []string
	r.Schedule("batch", time.Second, func() { got = append(got, "first") })
	clk.Advance(800 * time.Millisecond)
	r.Schedule("batch", time.Second, func() { got = append(got, "second") })
	clk.Advance(800 * time.Millisecond)
	assert.Empty(t, got, "the first deadline must not fire after a reschedule")

	clk.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"second"}, got)
}

func TestStaleFireIsDiscarded(t *testing.T) {
	// Stop always loses the race here: callbacks are collected and invoked by hand.
	var fires []func()
	r := NewWithAfterFunc(func(_ time.Duration, f func()) Timer {
		fires = append(fires, f)
		return stubTimer{}
	})

	runs := 0
	r.Schedule("k", time.Second, func() { runs++ })
	r.Schedule("k", time.Second, func() { runs += 10 })

	fires[0]()
	assert.Zero(t, runs, "a replaced task must not run even if its timer fires")
	fires[1]()
	assert.Equal(t, 10, runs)
}

type stubTimer struct{}

func (stubTimer) Stop() bool { return false }

func TestCancelAndStop(t *testing.T) {
	clk := &fakeClock{}
	r := NewWithAfterFunc(clk.AfterFunc)

	runs := 0
	r.Schedule("a", time.Second, func() { runs++ })
	r.Schedule("b", time.Second, func() { runs++ })
	assert.True(t, r.Cancel("a"))
	assert.False(t, r.Cancel("a"))
	assert.Equal(t, 1, r.Len())

	r.Stop()
	assert.Zero(t, r.Len())
	assert.False(t, r.Schedule("c", time.Second, func() { runs++ }))

	clk.Advance(time.Minute)
	assert.Zero(t, runs)
}

func TestRealTimers(t *testing.T) {
	r := New()
	defer r.Stop()

	done := make(chan struct{})
	r.Schedule("x", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}
