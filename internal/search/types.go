// Package search answers natural-language queries against the dual index:
// BM25 keyword search and HNSW vector search run in parallel, results are
// fused with Reciprocal Rank Fusion, weighted by document type, filtered,
// and compressed to a token budget.
package search

import (
	"github.com/schemadex/schemadex/internal/docmodel"
)

// Default engine limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100

	// MinSourceK is the per-source candidate floor. Each source retrieves
	// max(limit*3, MinSourceK) so fusion has enough overlap to work with.
	MinSourceK = 50
)

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results (default: 10, max: 100).
	Limit int

	// Database restricts results to one source database. Empty = all.
	Database string

	// Domain restricts results to one business domain. Empty = all.
	Domain string

	// BM25Only skips the vector path entirely (keyword-only search).
	BM25Only bool

	// Budget overrides the tier heuristic: "narrow", "standard", "wide".
	// Empty selects a tier from the query.
	Budget string
}

// SearchResult is one ranked document with its score breakdown.
type SearchResult struct {
	Document *docmodel.Document

	// Text is the budget-compressed payload for this result.
	Text string

	// Score is the fused, weighted, normalized score (0-1).
	Score float64

	// BM25Score is the raw BM25 score (0 if absent from that list).
	BM25Score float64

	// VecScore is the vector similarity score (0 if absent).
	VecScore float64

	// BM25Rank / VecRank are 1-indexed positions, 0 if absent.
	BM25Rank int
	VecRank  int

	// InBothLists reports whether both sources returned this document.
	InBothLists bool

	// MatchedTerms are the BM25 query terms that matched.
	MatchedTerms []string
}

// SearchResponse is the full answer to one query, with token accounting.
type SearchResponse struct {
	Results []*SearchResult

	// BudgetTier is the selected tier name.
	BudgetTier string

	// BudgetTokens is the tier's token ceiling.
	BudgetTokens int

	// TokensUsed is the estimated token cost of all result texts.
	TokensUsed int

	// Degraded reports that the vector path was unavailable (missing
	// vectors or dimension mismatch) and only keywords were searched.
	Degraded bool
}

// TypeWeights are the per-document-type score multipliers. A whole-table
// match is worth more to a caller than a single column at equal relevance.
type TypeWeights map[docmodel.DocType]float64

// DefaultTypeWeights returns the reference multipliers.
func DefaultTypeWeights() TypeWeights {
	return TypeWeights{
		docmodel.DocTypeTable:        1.5,
		docmodel.DocTypeRelationship: 1.2,
		docmodel.DocTypeColumn:       1.0,
		docmodel.DocTypeDomain:       1.0,
		docmodel.DocTypeOverview:     1.0,
	}
}

// Weight returns the multiplier for a doc type, defaulting to 1.0.
func (w TypeWeights) Weight(t docmodel.DocType) float64 {
	if v, ok := w[t]; ok {
		return v
	}
	return 1.0
}

// EngineConfig configures the hybrid search engine.
type EngineConfig struct {
	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int

	// DefaultLimit and MaxLimit bound the result count.
	DefaultLimit int
	MaxLimit     int

	// TypeWeights multiply fused scores per document type.
	TypeWeights TypeWeights

	// Budget configures token-budget compression.
	Budget BudgetConfig
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RRFConstant:  DefaultRRFConstant,
		DefaultLimit: DefaultLimit,
		MaxLimit:     MaxLimit,
		TypeWeights:  DefaultTypeWeights(),
		Budget:       DefaultBudgetConfig(),
	}
}

// EngineStats summarizes index sizes for the status surface.
type EngineStats struct {
	BM25Documents int
	VectorCount   int
}
