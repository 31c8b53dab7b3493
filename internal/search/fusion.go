package search

import (
	"sort"

	"github.com/schemadex/schemadex/internal/store"
)

// DefaultRRFConstant is the RRF smoothing parameter. k=60 is the common
// default (Azure AI Search, OpenSearch); it has not been tuned against this
// corpus.
const DefaultRRFConstant = 60

// FusedResult is a single result after RRF fusion, before enrichment.
type FusedResult struct {
	DocID        string
	RRFScore     float64
	BM25Score    float64
	BM25Rank     int // 1-indexed, 0 if absent.
	VecScore     float64
	VecRank      int // 1-indexed, 0 if absent.
	InBothLists  bool
	MatchedTerms []string
}

// RRFFusion combines BM25 and vector result lists.
//
// score(d) = Σ_source 1 / (k + rank_source(d))
//
// A document absent from one source's top-K contributes nothing for that
// source: absence is evidence of irrelevance there, not missing data to
// impute.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion instance. k <= 0 selects the default.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines the two ranked lists. Scores are raw RRF sums; callers
// apply type weights and normalize after enrichment. The output is sorted
// by score with deterministic tie-breaking.
func (f *RRFFusion) Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult) []*FusedResult {
	// Empty slice, not nil, so callers can range without nil checks.
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(bm25)+len(vec))

	for rank, r := range bm25 {
		result := f.getOrCreate(scores, r.DocID)
		result.BM25Score = r.Score
		result.BM25Rank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += 1.0 / float64(f.K+rank+1)
	}

	for rank, r := range vec {
		result := f.getOrCreate(scores, r.ID)
		result.VecScore = float64(r.Score)
		result.VecRank = rank + 1
		result.RRFScore += 1.0 / float64(f.K+rank+1)

		if result.BM25Rank > 0 {
			result.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	SortFused(results)

	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{DocID: id}
	m[id] = r
	return r
}

// SortFused orders results deterministically:
//
//  1. Higher RRF score
//  2. In both lists (true before false)
//  3. Higher BM25 score (exact match indicator)
//  4. Lexicographically smaller DocID
func SortFused(results []*FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		if a.BM25Score != b.BM25Score {
			return a.BM25Score > b.BM25Score
		}
		return a.DocID < b.DocID
	})
}

// NormalizeFused scales scores so the best result is 1.0. The input must
// already be sorted.
func NormalizeFused(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].RRFScore
	if max == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= max
	}
}
