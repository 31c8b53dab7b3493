package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedderHitsCacheOnRepeat(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "customer orders")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "customer orders")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.batchCalls())
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, 1, inner.batchCalls())

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 64)
	}
	// Only beta and gamma needed a provider call.
	assert.Equal(t, 2, inner.batchCalls())
	assert.Equal(t, 3, cached.Len())
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	_, _ = cached.Embed(ctx, "one")
	_, _ = cached.Embed(ctx, "two")
	_, _ = cached.Embed(ctx, "three") // Evicts "one".
	require.Equal(t, 3, inner.batchCalls())

	_, err := cached.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, 4, inner.batchCalls())
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	inner := NewStaticEmbedder(32)
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, 32, cached.Dimensions())
	assert.Equal(t, "static", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.NoError(t, cached.Close())
}
