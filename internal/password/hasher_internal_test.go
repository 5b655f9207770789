package password

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDummyHash_RecoversAfterCancelledFirstCall(t *testing.T) {
	h := NewHasher(Params{Time: 1, Memory: 1024, Threads: 1}, 1)

	// Hold the only slot so the first derivation cannot start.
	h.sem <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.DummyHash(ctx)
	require.Error(t, err)
	h.release()

	dummy, err := h.DummyHash(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, dummy)

	ok, err := h.Verify(context.Background(), "anything", dummy)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.DummyHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dummy, again)
}
