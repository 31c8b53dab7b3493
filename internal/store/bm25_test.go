package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must satisfy the same behavioral contract, so the core
// tests run against each.
func forEachBackend(t *testing.T, fn func(t *testing.T, idx BM25Index)) {
	t.Helper()
	backends := []string{"sqlite", "bleve"}
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			idx, err := NewBM25Index("", DefaultBM25Config(), backend)
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			fn(t, idx)
		})
	}
}

func TestBM25IndexAndSearch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx BM25Index) {
		ctx := context.Background()

		docs := []*Document{
			{ID: "doc-1", Content: "shop public orders order_total customer_id placed_at"},
			{ID: "doc-2", Content: "shop public customers email billing_address signup_date"},
			{ID: "doc-3", Content: "shop public inventory stock_qty warehouse_code"},
		}
		require.NoError(t, idx.Index(ctx, docs))

		results, err := idx.Search(ctx, "customer email", 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "doc-2", results[0].DocID)
		assert.Greater(t, results[0].Score, 0.0)
	})
}

func TestBM25IdentifierSplitting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx BM25Index) {
		ctx := context.Background()

		require.NoError(t, idx.Index(ctx, []*Document{
			{ID: "doc-1", Content: "order_total orderDate customerName"},
		}))

		// snake_case and camelCase parts are searchable on their own.
		for _, q := range []string{"total", "date", "name"} {
			results, err := idx.Search(ctx, q, 10)
			require.NoError(t, err)
			assert.NotEmpty(t, results, "query %q should match split identifier", q)
		}
	})
}

func TestBM25EmptyQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx BM25Index) {
		results, err := idx.Search(context.Background(), "   ", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestBM25Reindex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx BM25Index) {
		ctx := context.Background()

		require.NoError(t, idx.Index(ctx, []*Document{{ID: "doc-1", Content: "alpha topic"}}))
		require.NoError(t, idx.Index(ctx, []*Document{{ID: "doc-1", Content: "beta topic"}}))

		results, err := idx.Search(ctx, "alpha", 10)
		require.NoError(t, err)
		assert.Empty(t, results, "old content should be replaced")

		results, err = idx.Search(ctx, "beta", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)

		assert.Equal(t, 1, idx.Stats().DocumentCount)
	})
}

func TestBM25Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx BM25Index) {
		ctx := context.Background()

		require.NoError(t, idx.Index(ctx, []*Document{
			{ID: "doc-1", Content: "orders shipping"},
			{ID: "doc-2", Content: "customers billing"},
		}))
		require.NoError(t, idx.Delete(ctx, []string{"doc-1"}))

		results, err := idx.Search(ctx, "shipping", 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		ids, err := idx.AllIDs()
		require.NoError(t, err)
		assert.Equal(t, []string{"doc-2"}, ids)
	})
}

func TestBM25FactoryUnknownBackend(t *testing.T) {
	_, err := NewBM25Index("", DefaultBM25Config(), "lucene")
	assert.Error(t, err)
}

func TestBM25FactoryDetect(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "bm25")

	assert.Equal(t, BM25Backend(""), DetectBM25Backend(basePath))

	idx, err := NewBM25Index(basePath, DefaultBM25Config(), "sqlite")
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), []*Document{{ID: "doc-1", Content: "orders"}}))
	require.NoError(t, idx.Close())

	assert.Equal(t, BM25BackendSQLite, DetectBM25Backend(basePath))
}

func TestSQLiteBM25PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bm25.db")
	ctx := context.Background()

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, []*Document{{ID: "doc-1", Content: "warehouse stock levels"}}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "warehouse", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
