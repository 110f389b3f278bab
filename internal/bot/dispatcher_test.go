package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherKeepsActorOrder(t *testing.T) {
	d := NewDispatcher(4, 16, nil, nil)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got = map[int64][]int{}
	)
	for i := range 20 {
		for _, actor := range []int64{1, 2, 3} {
			require.NoError(t, d.Submit(ctx, actor, "text", func(context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				got[actor] = append(got[actor], i)
				return nil
			}))
		}
	}
	require.NoError(t, d.Stop(ctx))

	for _, actor := range []int64{1, 2, 3} {
		require.Len(t, got[actor], 20)
		for i, v := range got[actor] {
			assert.Equal(t, i, v, "actor %d", actor)
		}
	}
}

func TestDispatcherSurvivesPanic(t *testing.T) {
	d := NewDispatcher(1, 4, nil, nil)
	ctx := context.Background()

	ran := make(chan struct{})
	require.NoError(t, d.Submit(ctx, 7, "callback", func(context.Context) error { panic("boom") }))
	require.NoError(t, d.Submit(ctx, 7, "callback", func(context.Context) error { return errors.New("handler failed") }))
	require.NoError(t, d.Submit(ctx, 7, "callback", func(context.Context) error {
		close(ran)
		return nil
	}))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := NewDispatcher(2, 2, nil, nil)
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	err := d.Submit(context.Background(), 1, "text", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDispatcherClosed)

	// Deferred work is dropped rather than run.
	ran := false
	d.Executor("attachment_batch")(1, func(context.Context) { ran = true })
	assert.False(t, ran)
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	d := NewDispatcher(1, 1, nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, d.Submit(context.Background(), 1, "text", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	// Fill the buffer so the next Submit has to wait.
	require.NoError(t, d.Submit(context.Background(), 1, "text", func(context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, 1, "text", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Stop(context.Background()))
}
