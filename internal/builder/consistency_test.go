package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/store"
)

type consistencyFixture struct {
	docs    store.DocumentStore
	bm25    store.BM25Index
	vectors store.VectorStore
	keys    []string
}

// newConsistencyFixture seeds a coherent index: two documents, both in BM25,
// the non-degraded one with a vector.
func newConsistencyFixture(t *testing.T) *consistencyFixture {
	t.Helper()
	ctx := context.Background()

	docs, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	bm25, err := store.NewSQLiteBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	seeded := []*docmodel.Document{
		{
			Type:     docmodel.DocTypeTable,
			Identity: "shop.public.orders",
			FilePath: "tables/orders.md",
			Content:  "customer purchase orders",
			Database: "shop",
		},
		{
			Type:     docmodel.DocTypeTable,
			Identity: "shop.public.invoices",
			FilePath: "tables/invoices.md",
			Content:  "billing invoices",
			Database: "shop",
			Degraded: true,
		},
	}
	require.NoError(t, docs.SaveDocuments(ctx, seeded))

	keys := make([]string, len(seeded))
	for i, d := range seeded {
		keys[i] = docmodel.DocID(d.ID)
		require.NoError(t, bm25.Index(ctx, []*store.Document{{ID: keys[i], Content: d.Content}}))
	}

	embedder := embed.NewStaticEmbedder(8)
	vecs, err := embedder.EmbedBatch(ctx, []string{seeded[0].Content})
	require.NoError(t, err)
	require.NoError(t, vectors.Add(ctx, []string{keys[0]}, vecs))

	return &consistencyFixture{docs: docs, bm25: bm25, vectors: vectors, keys: keys}
}

func TestConsistencyCheckCleanIndex(t *testing.T) {
	f := newConsistencyFixture(t)

	result, err := NewConsistencyChecker(f.docs, f.bm25, f.vectors).Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Checked)
	assert.Empty(t, result.Inconsistencies)
	assert.Zero(t, result.MissingVectors)
}

func TestConsistencyCheckFindsOrphans(t *testing.T) {
	f := newConsistencyFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bm25.Index(ctx, []*store.Document{{ID: "doc:9999", Content: "stale entry"}}))

	embedder := embed.NewStaticEmbedder(8)
	vec, err := embedder.EmbedBatch(ctx, []string{"stale vector"})
	require.NoError(t, err)
	require.NoError(t, f.vectors.Add(ctx, []string{"doc:8888"}, vec))

	result, err := NewConsistencyChecker(f.docs, f.bm25, f.vectors).Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 2)

	byType := map[InconsistencyType]string{}
	for _, is := range result.Inconsistencies {
		byType[is.Type] = is.DocID
	}
	assert.Equal(t, "doc:9999", byType[InconsistencyOrphanBM25])
	assert.Equal(t, "doc:8888", byType[InconsistencyOrphanVector])
	assert.Zero(t, result.MissingVectors)
}

func TestConsistencyCheckFindsMissingBM25(t *testing.T) {
	f := newConsistencyFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bm25.Delete(ctx, []string{f.keys[1]}))

	result, err := NewConsistencyChecker(f.docs, f.bm25, f.vectors).Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyMissingBM25, result.Inconsistencies[0].Type)
	assert.Equal(t, f.keys[1], result.Inconsistencies[0].DocID)
}

func TestConsistencyCheckCountsMissingVectors(t *testing.T) {
	f := newConsistencyFixture(t)
	ctx := context.Background()

	require.NoError(t, f.vectors.Delete(ctx, []string{f.keys[0]}))

	result, err := NewConsistencyChecker(f.docs, f.bm25, f.vectors).Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Inconsistencies)
	// The degraded document is keyword-only; only the other one is missing.
	assert.Equal(t, 1, result.MissingVectors)
}

func TestConsistencyCheckWithoutVectorStore(t *testing.T) {
	f := newConsistencyFixture(t)

	result, err := NewConsistencyChecker(f.docs, f.bm25, nil).Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Inconsistencies)
	assert.Zero(t, result.MissingVectors)
}

func TestConsistencyRepairRemovesOrphans(t *testing.T) {
	f := newConsistencyFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bm25.Index(ctx, []*store.Document{{ID: "doc:9999", Content: "stale entry"}}))

	embedder := embed.NewStaticEmbedder(8)
	vec, err := embedder.EmbedBatch(ctx, []string{"stale vector"})
	require.NoError(t, err)
	require.NoError(t, f.vectors.Add(ctx, []string{"doc:8888"}, vec))

	checker := NewConsistencyChecker(f.docs, f.bm25, f.vectors)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.NoError(t, checker.Repair(ctx, result))

	after, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, after.Inconsistencies)
	assert.False(t, f.vectors.Contains("doc:8888"))
}
