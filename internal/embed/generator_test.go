package embed

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemadex/schemadex/internal/errors"
)

// countingEmbedder wraps StaticEmbedder and records batch calls; it can be
// told to fail a fixed number of times with a given error.
type countingEmbedder struct {
	*StaticEmbedder

	mu        sync.Mutex
	calls     int
	failTimes int
	failWith  error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
}

// Embed delegates through the wrapper's EmbedBatch so single-text calls are
// counted; method promotion would otherwise bypass the override.
func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	if c.failTimes > 0 {
		c.failTimes--
		err := c.failWith
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) batchCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: 1, MaxDelay: 1, Multiplier: 1.0}
}

func TestGeneratorEveryItemGetsResult(t *testing.T) {
	emb := newCountingEmbedder()
	gen := NewGenerator(emb, GeneratorConfig{BatchSize: 3, Retry: fastRetry()})

	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{DocID: int64(i + 1), Text: "document text"}
	}

	results := gen.Generate(context.Background(), items)

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, items[i].DocID, r.DocID)
		assert.False(t, r.Failed())
		assert.Len(t, r.Vector, 64)
	}
	// 10 items in batches of 3 means 4 provider calls.
	assert.Equal(t, 4, emb.batchCalls())
}

func TestGeneratorBatchFailureMarksWholeBatch(t *testing.T) {
	emb := newCountingEmbedder()
	emb.failTimes = 100 // Permanent failure.
	emb.failWith = errors.New(errors.ErrCodeEmbeddingFailed, "model exploded", nil)

	gen := NewGenerator(emb, GeneratorConfig{BatchSize: 2, Retry: fastRetry()})

	items := []Item{
		{DocID: 1, Text: "a"},
		{DocID: 2, Text: "b"},
		{DocID: 3, Text: "c"},
	}
	results := gen.Generate(context.Background(), items)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Failed())
		assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(r.Err))
		assert.Nil(t, r.Vector)
	}
}

func TestGeneratorRetriesTransientThenSucceeds(t *testing.T) {
	emb := newCountingEmbedder()
	emb.failTimes = 2
	emb.failWith = errors.New(errors.ErrCodeProviderTimeout, "timed out", nil)

	gen := NewGenerator(emb, GeneratorConfig{BatchSize: 10, Retry: fastRetry()})

	results := gen.Generate(context.Background(), []Item{{DocID: 1, Text: "hello"}})

	require.Len(t, results, 1)
	assert.False(t, results[0].Failed())
	assert.Equal(t, 3, emb.batchCalls())
}

func TestGeneratorDoesNotRetryPermanentErrors(t *testing.T) {
	emb := newCountingEmbedder()
	emb.failTimes = 100
	emb.failWith = errors.New(errors.ErrCodeInvalidInput, "bad input", nil)

	gen := NewGenerator(emb, GeneratorConfig{BatchSize: 10, Retry: fastRetry()})

	results := gen.Generate(context.Background(), []Item{{DocID: 1, Text: "hello"}})

	require.True(t, results[0].Failed())
	assert.Equal(t, 1, emb.batchCalls())
}

func TestGeneratorOversizedTextIsPooled(t *testing.T) {
	emb := newCountingEmbedder()
	cfg := GeneratorConfig{
		BatchSize:          10,
		CharsPerToken:      4,
		ContextLimitTokens: 10, // 40 chars.
		Retry:              fastRetry(),
	}
	gen := NewGenerator(emb, cfg)

	long := strings.Repeat("the quick brown fox jumps over it. ", 10)
	results := gen.Generate(context.Background(), []Item{{DocID: 7, Text: long}})

	require.Len(t, results, 1)
	require.False(t, results[0].Failed())
	assert.Len(t, results[0].Vector, 64)

	// Pooled vector should be unit length.
	var sum float64
	for _, v := range results[0].Vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	gen := NewGenerator(NewStaticEmbedder(8), GeneratorConfig{CharsPerToken: 4})

	assert.Equal(t, 0, gen.EstimateTokens(""))
	assert.Equal(t, 1, gen.EstimateTokens("abc"))
	assert.Equal(t, 1, gen.EstimateTokens("abcd"))
	assert.Equal(t, 2, gen.EstimateTokens("abcde"))
}

func TestSplitSentencesRespectsBoundaries(t *testing.T) {
	text := "First sentence. Second sentence. Third sentence."
	chunks := SplitSentences(text, 20)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 20)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitSentencesShortTextUnchanged(t *testing.T) {
	chunks := SplitSentences("short", 100)
	assert.Equal(t, []string{"short"}, chunks)
}

func TestSplitSentencesHardSplitsMonsterSentence(t *testing.T) {
	text := strings.Repeat("x", 95)
	chunks := SplitSentences(text, 30)

	assert.GreaterOrEqual(t, len(chunks), 4)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestMeanPool(t *testing.T) {
	pooled, err := meanPool([][]float32{
		{1, 0, 3},
		{3, 2, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1, 2}, pooled)

	_, err = meanPool(nil)
	assert.Error(t, err)

	_, err = meanPool([][]float32{{1, 2}, {1, 2, 3}})
	assert.Error(t, err)
}
