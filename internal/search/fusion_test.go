package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemadex/schemadex/internal/store"
)

func bm25Hit(id string, score float64) *store.BM25Result {
	return &store.BM25Result{DocID: id, Score: score}
}

func vecHit(id string, score float32) *store.VectorResult {
	return &store.VectorResult{ID: id, Score: score}
}

func TestFuseBothEmpty(t *testing.T) {
	f := NewRRFFusion(0)

	results := f.Fuse(nil, nil)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuseBothSourcesBeatSingle(t *testing.T) {
	f := NewRRFFusion(DefaultRRFConstant)

	// doc-1 appears in both lists at rank 2; doc-2 and doc-3 lead one
	// list each. Two contributions beat one.
	bm25 := []*store.BM25Result{bm25Hit("doc-2", 9.0), bm25Hit("doc-1", 5.0)}
	vec := []*store.VectorResult{vecHit("doc-3", 0.95), vecHit("doc-1", 0.80)}

	results := f.Fuse(bm25, vec)
	require.Len(t, results, 3)

	assert.Equal(t, "doc-1", results[0].DocID)
	assert.True(t, results[0].InBothLists)
	assert.Equal(t, 2, results[0].BM25Rank)
	assert.Equal(t, 2, results[0].VecRank)
}

func TestFuseAbsentSourceContributesNothing(t *testing.T) {
	f := NewRRFFusion(60)

	results := f.Fuse([]*store.BM25Result{bm25Hit("doc-1", 3.0)}, nil)
	require.Len(t, results, 1)

	assert.InDelta(t, 1.0/61.0, results[0].RRFScore, 1e-12)
	assert.Equal(t, 0, results[0].VecRank)
	assert.False(t, results[0].InBothLists)
}

func TestFuseBetterRankScoresHigher(t *testing.T) {
	f := NewRRFFusion(60)

	bm25 := []*store.BM25Result{
		bm25Hit("doc-1", 10.0),
		bm25Hit("doc-2", 8.0),
		bm25Hit("doc-3", 6.0),
	}
	results := f.Fuse(bm25, nil)
	require.Len(t, results, 3)

	assert.Greater(t, results[0].RRFScore, results[1].RRFScore)
	assert.Greater(t, results[1].RRFScore, results[2].RRFScore)
	assert.Equal(t, "doc-1", results[0].DocID)
}

func TestFuseCarriesMatchedTerms(t *testing.T) {
	f := NewRRFFusion(0)

	bm25 := []*store.BM25Result{
		{DocID: "doc-1", Score: 2.0, MatchedTerms: []string{"orders", "total"}},
	}
	results := f.Fuse(bm25, nil)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"orders", "total"}, results[0].MatchedTerms)
}

func TestSortFusedTieBreaks(t *testing.T) {
	results := []*FusedResult{
		{DocID: "doc-9", RRFScore: 0.5},
		{DocID: "doc-2", RRFScore: 0.5, InBothLists: true},
		{DocID: "doc-5", RRFScore: 0.5, BM25Score: 4.0},
		{DocID: "doc-1", RRFScore: 0.5},
	}
	SortFused(results)

	// Both lists first, then BM25 score, then lexicographic doc key.
	assert.Equal(t, "doc-2", results[0].DocID)
	assert.Equal(t, "doc-5", results[1].DocID)
	assert.Equal(t, "doc-1", results[2].DocID)
	assert.Equal(t, "doc-9", results[3].DocID)
}

func TestNormalizeFused(t *testing.T) {
	results := []*FusedResult{
		{DocID: "doc-1", RRFScore: 0.04},
		{DocID: "doc-2", RRFScore: 0.02},
		{DocID: "doc-3", RRFScore: 0.01},
	}
	NormalizeFused(results)

	assert.Equal(t, 1.0, results[0].RRFScore)
	assert.InDelta(t, 0.5, results[1].RRFScore, 1e-12)
	assert.InDelta(t, 0.25, results[2].RRFScore, 1e-12)
}

func TestNormalizeFusedEmpty(t *testing.T) {
	NormalizeFused(nil)
	NormalizeFused([]*FusedResult{})
}
