package builder

import (
	"context"
	"log/slog"
	"time"

	"github.com/schemadex/schemadex/internal/store"
)

// InconsistencyType categorizes cross-store issues.
type InconsistencyType int

const (
	// InconsistencyOrphanBM25 is a BM25 entry without matching metadata.
	InconsistencyOrphanBM25 InconsistencyType = iota
	// InconsistencyOrphanVector is a vector entry without matching metadata.
	InconsistencyOrphanVector
	// InconsistencyMissingBM25 is a metadata document missing from BM25.
	InconsistencyMissingBM25
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanBM25:
		return "orphan_bm25"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingBM25:
		return "missing_bm25"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	DocID   string
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	// MissingVectors counts non-degraded documents without a vector.
	// Degraded documents are keyword-only and carry no vector.
	MissingVectors int
	Duration       time.Duration
}

// ConsistencyChecker validates that the metadata store, the BM25 index, and
// the vector index describe the same document set. Metadata is the source of
// truth: entries present only in BM25 or the vector index are orphans, and
// every document must be keyword-indexed. Vector coverage is checked in
// aggregate because degraded documents legitimately have none.
type ConsistencyChecker struct {
	docs    store.DocumentStore
	bm25    store.BM25Index
	vectors store.VectorStore
}

// NewConsistencyChecker builds a checker. vectors may be nil for a
// keyword-only index.
func NewConsistencyChecker(docs store.DocumentStore, bm25 store.BM25Index, vectors store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{docs: docs, bm25: bm25, vectors: vectors}
}

// Check scans all stores. O(n) in the total entry count.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	metaIDs, err := c.docs.AllDocIDs(ctx)
	if err != nil {
		return nil, err
	}
	metaSet := make(map[string]bool, len(metaIDs))
	for _, id := range metaIDs {
		metaSet[id] = true
	}

	bm25IDs, err := c.bm25.AllIDs()
	if err != nil {
		slog.Warn("consistency_check_bm25_ids_failed", slog.String("error", err.Error()))
	}
	bm25Set := make(map[string]bool, len(bm25IDs))
	for _, id := range bm25IDs {
		bm25Set[id] = true
		if !metaSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanBM25,
				DocID:   id,
				Details: "keyword index entry without matching metadata",
			})
		}
	}

	vectorCount := 0
	if c.vectors != nil {
		for _, id := range c.vectors.AllIDs() {
			vectorCount++
			if !metaSet[id] {
				issues = append(issues, Inconsistency{
					Type:    InconsistencyOrphanVector,
					DocID:   id,
					Details: "vector entry without matching metadata",
				})
			}
		}
	}

	for _, id := range metaIDs {
		if !bm25Set[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingBM25,
				DocID:   id,
				Details: "document missing from keyword index",
			})
		}
	}

	missingVectors := 0
	if c.vectors != nil {
		stats, err := c.docs.Stats(ctx)
		if err != nil {
			return nil, err
		}
		orphanVectors := 0
		for _, is := range issues {
			if is.Type == InconsistencyOrphanVector {
				orphanVectors++
			}
		}
		expected := stats.DocumentCount - stats.DegradedCount
		if have := vectorCount - orphanVectors; have < expected {
			missingVectors = expected - have
		}
	}

	return &CheckResult{
		Checked:         len(metaIDs),
		Inconsistencies: issues,
		MissingVectors:  missingVectors,
		Duration:        time.Since(start),
	}, nil
}

// Repair removes orphaned entries from the keyword and vector indexes.
// Missing entries are only logged: they require a re-index to restore.
func (c *ConsistencyChecker) Repair(ctx context.Context, result *CheckResult) error {
	var orphanBM25, orphanVector []string
	missing := 0
	for _, is := range result.Inconsistencies {
		switch is.Type {
		case InconsistencyOrphanBM25:
			orphanBM25 = append(orphanBM25, is.DocID)
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, is.DocID)
		case InconsistencyMissingBM25:
			missing++
		}
	}

	if len(orphanBM25) > 0 {
		if err := c.bm25.Delete(ctx, orphanBM25); err != nil {
			slog.Warn("orphan_bm25_delete_failed",
				slog.Int("count", len(orphanBM25)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("orphan_bm25_deleted", slog.Int("count", len(orphanBM25)))
		}
	}

	if len(orphanVector) > 0 && c.vectors != nil {
		if err := c.vectors.Delete(ctx, orphanVector); err != nil {
			slog.Warn("orphan_vector_delete_failed",
				slog.Int("count", len(orphanVector)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("orphan_vector_deleted", slog.Int("count", len(orphanVector)))
		}
	}

	if missing > 0 || result.MissingVectors > 0 {
		slog.Warn("index_entries_missing",
			slog.Int("missing_bm25", missing),
			slog.Int("missing_vectors", result.MissingVectors),
			slog.String("hint", "run 'schemadex index --force' to rebuild"))
	}

	return nil
}
