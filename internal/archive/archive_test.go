package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/platform/platformtest"
)

const filesChannel = int64(-900)

func TestStoreAndPurge(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	ch := New(fake, filesChannel, nil)

	id, err := ch.Store(ctx, -1, 42)
	require.NoError(t, err)
	copied, ok := fake.Get(filesChannel, id)
	require.True(t, ok)
	assert.Equal(t, "-1/42", copied.ForwardedFrom)

	require.NoError(t, ch.Purge(ctx, id, 0))
	assert.True(t, fake.Deleted(filesChannel, id))

	// Purging twice is not an error.
	assert.NoError(t, ch.Purge(ctx, id))
}

func TestStoreFailure(t *testing.T) {
	fake := platformtest.New()
	fake.FailForward = func(int64, int64) error { return errors.New("gateway down") }

	_, err := New(fake, filesChannel, nil).Store(context.Background(), -1, 42)
	assert.ErrorContains(t, err, "gateway down")
}
