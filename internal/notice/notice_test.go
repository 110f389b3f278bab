package notice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/platform/platformtest"
	"github.com/mmynk/splitbot/internal/timers"
)

type stopper struct{}

func (stopper) Stop() bool { return true }

func TestSendDeletesLater(t *testing.T) {
	var (
		delays []time.Duration
		fires  []func()
	)
	registry := timers.NewWithAfterFunc(func(d time.Duration, f func()) timers.Timer {
		delays = append(delays, d)
		fires = append(fires, f)
		return stopper{}
	})
	fake := platformtest.New()
	n := New(fake, registry, 0, nil)

	id, err := n.Send(context.Background(), -1, "Invalid file type.")
	require.NoError(t, err)
	sent, ok := fake.Get(-1, id)
	require.True(t, ok)
	assert.Equal(t, "Invalid file type.", sent.Text)
	assert.Equal(t, []time.Duration{DefaultTTL}, delays)
	assert.True(t, registry.Pending(Key(-1, id)))

	fires[0]()
	assert.True(t, fake.Deleted(-1, id))

	// The message may already be gone when the timer fires.
	n.DeleteLater(-1, id)
	fires[1]()
}
