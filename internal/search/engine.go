package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/errors"
	"github.com/schemadex/schemadex/internal/store"
)

// ErrNilDependency indicates a missing engine dependency.
var ErrNilDependency = stderrors.New("search: nil dependency")

// Engine is the hybrid search engine over a built index.
type Engine struct {
	docs     store.DocumentStore
	bm25     store.BM25Index
	vectors  store.VectorStore
	embedder embed.Embedder

	config EngineConfig
	fusion *RRFFusion
}

// NewEngine wires the engine. The vector store and embedder may be nil,
// which restricts the engine to keyword-only (degraded) search.
func NewEngine(docs store.DocumentStore, bm25 store.BM25Index, vectors store.VectorStore, embedder embed.Embedder, config EngineConfig) (*Engine, error) {
	if docs == nil {
		return nil, fmt.Errorf("%w: document store", ErrNilDependency)
	}
	if bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index", ErrNilDependency)
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = MaxLimit
	}
	if config.TypeWeights == nil {
		config.TypeWeights = DefaultTypeWeights()
	}
	if config.Budget.StandardTokens <= 0 {
		config.Budget = DefaultBudgetConfig()
	}

	return &Engine{
		docs:     docs,
		bm25:     bm25,
		vectors:  vectors,
		embedder: embedder,
		config:   config,
		fusion:   NewRRFFusion(config.RRFConstant),
	}, nil
}

// Search answers one query: both sources in parallel, RRF fusion, type
// weighting, filtering, and budget compression.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeInvalidQuery, "empty query", nil)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}

	// Over-fetch per source so fusion and filtering have slack.
	k := limit * 3
	if k < MinSourceK {
		k = MinSourceK
	}

	useVectors := !opts.BM25Only && e.vectors != nil && e.embedder != nil
	degraded := false
	if useVectors {
		if err := e.validateDimensions(ctx); err != nil {
			slog.Warn("vector_search_degraded",
				slog.String("query", query),
				slog.String("error", err.Error()))
			useVectors = false
			degraded = true
		}
	} else if !opts.BM25Only {
		// Vector path was never wired (no embedder or vector index).
		degraded = true
	}

	bm25Results, vecResults, err := e.retrieve(ctx, query, k, useVectors)
	if err != nil {
		return nil, err
	}

	fused := e.fusion.Fuse(bm25Results, vecResults)

	results, err := e.enrich(ctx, fused)
	if err != nil {
		return nil, err
	}

	e.applyTypeWeights(results)
	results = filterResults(results, opts)
	if len(results) > limit {
		results = results[:limit]
	}

	tier := opts.Budget
	if tier == "" {
		tier = e.config.Budget.SelectTier(query)
	}
	budgetTokens := e.config.Budget.Tokens(tier)
	tokensUsed := e.config.Budget.Compress(results, budgetTokens)

	slog.Debug("search_completed",
		slog.String("query", query),
		slog.Int("bm25_hits", len(bm25Results)),
		slog.Int("vector_hits", len(vecResults)),
		slog.Int("results", len(results)),
		slog.String("budget_tier", tier),
		slog.Int("tokens_used", tokensUsed),
		slog.Bool("degraded", degraded))

	return &SearchResponse{
		Results:      results,
		BudgetTier:   tier,
		BudgetTokens: budgetTokens,
		TokensUsed:   tokensUsed,
		Degraded:     degraded,
	}, nil
}

// retrieve runs the keyword and vector lookups in parallel. One source
// failing is tolerated as long as the other answers; both failing is an
// error.
func (e *Engine) retrieve(ctx context.Context, query string, k int, useVectors bool) ([]*store.BM25Result, []*store.VectorResult, error) {
	var (
		bm25Results []*store.BM25Result
		vecResults  []*store.VectorResult
		bm25Err     error
		vecErr      error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bm25Results, bm25Err = e.bm25.Search(gctx, query, k)
		return nil
	})

	if useVectors {
		g.Go(func() error {
			var vector []float32
			vector, vecErr = e.embedder.Embed(gctx, query)
			if vecErr != nil {
				return nil
			}
			vecResults, vecErr = e.vectors.Search(gctx, vector, k)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if bm25Err != nil && (!useVectors || vecErr != nil) {
		return nil, nil, errors.New(errors.ErrCodeSearchFailed, "all search sources failed", stderrors.Join(bm25Err, vecErr))
	}
	if bm25Err != nil {
		slog.Warn("bm25_search_failed", slog.String("error", bm25Err.Error()))
	}
	if vecErr != nil {
		slog.Warn("vector_search_failed", slog.String("error", vecErr.Error()))
	}

	return bm25Results, vecResults, nil
}

// validateDimensions checks the query embedder against the model and
// dimension the index was built with.
func (e *Engine) validateDimensions(ctx context.Context) error {
	stored, err := e.docs.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return err
	}
	if stored == "" {
		return fmt.Errorf("index has no embedding dimension recorded")
	}
	dims, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("invalid stored dimension %q: %w", stored, err)
	}
	if dims != e.embedder.Dimensions() {
		return store.ErrDimensionMismatch{Expected: dims, Got: e.embedder.Dimensions()}
	}

	model, err := e.docs.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return err
	}
	if model != "" && model != e.embedder.ModelName() {
		return fmt.Errorf("index built with model %q, query embedder is %q", model, e.embedder.ModelName())
	}
	return nil
}

// enrich loads the stored documents behind fused doc keys. Keys that no
// longer resolve (deleted between index save and now) are dropped.
func (e *Engine) enrich(ctx context.Context, fused []*FusedResult) ([]*SearchResult, error) {
	if len(fused) == 0 {
		return []*SearchResult{}, nil
	}

	ids := make([]int64, 0, len(fused))
	byID := make(map[int64]*FusedResult, len(fused))
	for _, f := range fused {
		id, err := docmodel.ParseDocID(f.DocID)
		if err != nil {
			slog.Warn("unparseable_doc_key", slog.String("doc_id", f.DocID))
			continue
		}
		ids = append(ids, id)
		byID[id] = f
	}

	docs, err := e.docs.GetDocuments(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}

	results := make([]*SearchResult, 0, len(docs))
	for _, doc := range docs {
		f, ok := byID[doc.ID]
		if !ok {
			continue
		}
		results = append(results, &SearchResult{
			Document:     doc,
			Score:        f.RRFScore,
			BM25Score:    f.BM25Score,
			VecScore:     f.VecScore,
			BM25Rank:     f.BM25Rank,
			VecRank:      f.VecRank,
			InBothLists:  f.InBothLists,
			MatchedTerms: f.MatchedTerms,
		})
	}
	return results, nil
}

// applyTypeWeights multiplies each result's score by its document type
// weight, re-sorts, and normalizes to [0, 1].
func (e *Engine) applyTypeWeights(results []*SearchResult) {
	weighted := make([]*FusedResult, len(results))
	byID := make(map[string]*SearchResult, len(results))
	for i, r := range results {
		r.Score *= e.config.TypeWeights.Weight(r.Document.Type)
		key := docmodel.DocID(r.Document.ID)
		weighted[i] = &FusedResult{
			DocID:       key,
			RRFScore:    r.Score,
			BM25Score:   r.BM25Score,
			InBothLists: r.InBothLists,
		}
		byID[key] = r
	}

	SortFused(weighted)
	NormalizeFused(weighted)

	for i, f := range weighted {
		r := byID[f.DocID]
		r.Score = f.RRFScore
		results[i] = r
	}
}

// filterResults applies database and domain filters by exclusion.
func filterResults(results []*SearchResult, opts SearchOptions) []*SearchResult {
	if opts.Database == "" && opts.Domain == "" {
		return results
	}
	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if opts.Database != "" && !strings.EqualFold(r.Document.Database, opts.Database) {
			continue
		}
		if opts.Domain != "" && !strings.EqualFold(r.Document.Domain, opts.Domain) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// Stats reports index sizes for the status surface.
func (e *Engine) Stats() *EngineStats {
	stats := &EngineStats{}
	if s := e.bm25.Stats(); s != nil {
		stats.BM25Documents = s.DocumentCount
	}
	if e.vectors != nil {
		stats.VectorCount = e.vectors.Count()
	}
	return stats
}

// Close releases all engine resources.
func (e *Engine) Close() error {
	var errs []error
	if err := e.bm25.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.docs.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}
