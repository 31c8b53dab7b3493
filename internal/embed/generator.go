package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/schemadex/schemadex/internal/errors"
)

// Item is one document's embedding input.
type Item struct {
	DocID int64
	Text  string
}

// Result is the outcome for one input item: either a vector of the
// embedder's dimension, or a typed error. Every input produces exactly one
// Result - there are no silently missing entries.
type Result struct {
	DocID  int64
	Vector []float32
	Err    error
}

// Failed reports whether embedding failed for this item.
func (r Result) Failed() bool {
	return r.Err != nil
}

// GeneratorConfig configures batching and input splitting.
type GeneratorConfig struct {
	BatchSize          int // Texts per provider call (default: 50).
	CharsPerToken      int // Token estimation ratio (default: 4).
	ContextLimitTokens int // Provider hard input limit (default: 2048).
	Retry              RetryConfig
}

// DefaultGeneratorConfig returns the default generator configuration.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		BatchSize:          DefaultBatchSize,
		CharsPerToken:      DefaultCharsPerToken,
		ContextLimitTokens: DefaultContextLimitTokens,
		Retry:              DefaultRetryConfig(),
	}
}

// Generator batches document texts into an Embedder, splitting oversized
// inputs at sentence boundaries and mean-pooling the sub-chunk vectors.
type Generator struct {
	embedder Embedder
	config   GeneratorConfig
}

// NewGenerator creates a Generator over the given embedder.
func NewGenerator(embedder Embedder, cfg GeneratorConfig) *Generator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = DefaultCharsPerToken
	}
	if cfg.ContextLimitTokens <= 0 {
		cfg.ContextLimitTokens = DefaultContextLimitTokens
	}
	return &Generator{embedder: embedder, config: cfg}
}

// EstimateTokens estimates token count from character length. The ratio is
// deliberately conservative so estimates never undershoot.
func (g *Generator) EstimateTokens(text string) int {
	n := len(text) / g.config.CharsPerToken
	if len(text)%g.config.CharsPerToken != 0 {
		n++
	}
	return n
}

// Generate embeds all items. Oversized texts are split and mean-pooled;
// whole texts are batched. A batch that fails after retries marks every item
// in it failed and the run continues - embedding failure never aborts
// a Generate call.
func (g *Generator) Generate(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	var whole []int // Indexes of items that fit the context limit.
	for i, item := range items {
		if g.EstimateTokens(item.Text) > g.config.ContextLimitTokens {
			results[i] = g.embedOversized(ctx, item)
			continue
		}
		whole = append(whole, i)
	}

	for start := 0; start < len(whole); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(whole) {
			end = len(whole)
		}
		batch := whole[start:end]

		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = items[idx].Text
		}

		var vecs [][]float32
		err := WithRetry(ctx, g.config.Retry, func() error {
			var callErr error
			vecs, callErr = g.embedder.EmbedBatch(ctx, texts)
			return callErr
		})
		if err != nil {
			slog.Warn("embed_batch_failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			failure := errors.New(errors.ErrCodeEmbeddingFailed, "embedding failed for batch", err)
			for _, idx := range batch {
				results[idx] = Result{DocID: items[idx].DocID, Err: failure}
			}
			continue
		}

		for j, idx := range batch {
			results[idx] = Result{DocID: items[idx].DocID, Vector: vecs[j]}
		}
	}

	return results
}

// embedOversized splits a text at sentence boundaries into sub-chunks under
// the context limit, embeds each independently, and returns the element-wise
// mean of the sub-chunk vectors. Equal weight per chunk is the defined
// policy - not length-weighted.
func (g *Generator) embedOversized(ctx context.Context, item Item) Result {
	limitChars := g.config.ContextLimitTokens * g.config.CharsPerToken
	chunks := SplitSentences(item.Text, limitChars)

	var vecs [][]float32
	err := WithRetry(ctx, g.config.Retry, func() error {
		var callErr error
		vecs, callErr = g.embedder.EmbedBatch(ctx, chunks)
		return callErr
	})
	if err != nil {
		return Result{DocID: item.DocID, Err: errors.New(errors.ErrCodeEmbeddingFailed, "embedding failed for oversized document", err)}
	}

	pooled, poolErr := meanPool(vecs)
	if poolErr != nil {
		return Result{DocID: item.DocID, Err: errors.New(errors.ErrCodeEmbeddingFailed, poolErr.Error(), poolErr)}
	}
	return Result{DocID: item.DocID, Vector: normalizeVector(pooled)}
}

// meanPool averages vectors element-wise with equal weight per vector.
func meanPool(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no vectors to pool")
	}
	dims := len(vecs[0])
	sum := make([]float64, dims)
	for _, v := range vecs {
		if len(v) != dims {
			return nil, fmt.Errorf("inconsistent sub-chunk dimensions: %d vs %d", len(v), dims)
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	mean := make([]float32, dims)
	n := float64(len(vecs))
	for i, s := range sum {
		mean[i] = float32(s / n)
	}
	return mean, nil
}

// SplitSentences splits text into chunks of at most limitChars, breaking at
// sentence boundaries where possible. A single sentence longer than the
// limit is hard-split.
func SplitSentences(text string, limitChars int) []string {
	if limitChars <= 0 || len(text) <= limitChars {
		return []string{text}
	}

	sentences := splitAfterAny(text, ".!?\n")

	var chunks []string
	var current strings.Builder
	for _, s := range sentences {
		for len(s) > limitChars {
			// A single monster sentence: hard split.
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, s[:limitChars])
			s = s[limitChars:]
		}
		if current.Len()+len(s) > limitChars && current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(s)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}

	if len(chunks) == 0 {
		chunks = []string{text}
	}
	return chunks
}

// splitAfterAny splits text into segments, each ending with one of the
// delimiter bytes (the delimiter stays attached to its segment).
func splitAfterAny(text string, delims string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text); i++ {
		if strings.IndexByte(delims, text[i]) >= 0 {
			parts = append(parts, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}
