package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemadex/schemadex/internal/docmodel"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func tableDoc(identity string) *docmodel.Document {
	content := "Table " + identity + " holds order data."
	return &docmodel.Document{
		Type:        docmodel.DocTypeTable,
		Identity:    identity,
		FilePath:    "tables/" + identity + ".md",
		Content:     content,
		Summary:     identity + ": order data.",
		Keywords:    []string{"order", "data"},
		ContentHash: docmodel.HashContent(content),
		Database:    "shop",
		Domain:      "sales",
	}
}

func TestSQLiteStore_SaveAssignsStableIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := tableDoc("shop.public.orders")
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{doc}))
	require.NotZero(t, doc.ID)
	firstID := doc.ID

	// Re-saving the same identity keeps the ID.
	updated := tableDoc("shop.public.orders")
	updated.Content = "Table shop.public.orders holds order data. Updated."
	updated.ContentHash = docmodel.HashContent(updated.Content)
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{updated}))
	assert.Equal(t, firstID, updated.ID)

	stored, err := store.GetDocument(ctx, firstID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, updated.Content, stored.Content)
	assert.Equal(t, updated.ContentHash, stored.ContentHash)
	assert.Equal(t, []string{"order", "data"}, stored.Keywords)
}

func TestSQLiteStore_GetDocument_NotFound(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.GetDocument(context.Background(), 9999)
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSQLiteStore_ParentLinkage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	table := tableDoc("shop.public.orders")
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{table}))

	col := tableDoc("shop.public.orders.total")
	col.Type = docmodel.DocTypeColumn
	col.ParentDocID = &table.ID
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{col}))

	stored, err := store.GetDocumentByIdentity(ctx, "shop.public.orders.total")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.ParentDocID)
	assert.Equal(t, table.ID, *stored.ParentDocID)
}

func TestSQLiteStore_ListIdentityHashes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []*docmodel.Document{
		tableDoc("shop.public.orders"),
		tableDoc("shop.public.customers"),
	}
	require.NoError(t, store.SaveDocuments(ctx, docs))

	hashes, err := store.ListIdentityHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Equal(t, docs[0].ContentHash, hashes["shop.public.orders"])
}

func TestSQLiteStore_ListDocumentsByFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	table := tableDoc("shop.public.orders")
	col := tableDoc("shop.public.orders.id")
	col.Type = docmodel.DocTypeColumn
	col.FilePath = table.FilePath
	other := tableDoc("shop.public.customers")
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{table, col, other}))

	docs, err := store.ListDocumentsByFile(ctx, table.FilePath)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSQLiteStore_DeleteDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := tableDoc("shop.public.orders")
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{doc}))
	require.NoError(t, store.DeleteDocuments(ctx, []int64{doc.ID}))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	ids, err := store.AllDocIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteStore_Relationships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rels := []docmodel.Relationship{
		{
			SourceTable: "shop.public.orders",
			TargetTable: "shop.public.customers",
			JoinPath:    `[{"from":"shop.public.orders","to":"shop.public.customers","on":"o.customer_id = c.id"}]`,
			HopCount:    1,
			SQLSnippet:  "JOIN customers c ON o.customer_id = c.id",
			Confidence:  1.0,
		},
	}
	require.NoError(t, store.SaveRelationships(ctx, "shop.public.orders", rels))

	// Visible from both ends.
	fromSource, err := store.GetRelationships(ctx, "shop.public.orders")
	require.NoError(t, err)
	require.Len(t, fromSource, 1)

	fromTarget, err := store.GetRelationships(ctx, "shop.public.customers")
	require.NoError(t, err)
	require.Len(t, fromTarget, 1)
	assert.Equal(t, 1, fromTarget[0].HopCount)

	// SaveRelationships replaces, never appends.
	require.NoError(t, store.SaveRelationships(ctx, "shop.public.orders", rels))
	again, err := store.GetRelationships(ctx, "shop.public.orders")
	require.NoError(t, err)
	assert.Len(t, again, 1)

	require.NoError(t, store.DeleteRelationshipsBySource(ctx, "shop.public.orders"))
	none, err := store.GetRelationships(ctx, "shop.public.orders")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_State(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	require.NoError(t, store.SetState(ctx, StateKeyIndexModel, "nomic-embed-text"))
	val, err = store.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", val)

	require.NoError(t, store.DeleteState(ctx, StateKeyIndexModel))
	val, err = store.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestSQLiteStore_CheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp, err := store.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	saved := &Checkpoint{
		WorkUnit:      "sales",
		FilesDone:     42,
		FilesTotal:    100,
		EmbedderModel: "nomic-embed-text",
		DonePaths:     []string{"tables/orders.md", "tables/customers.md"},
	}
	require.NoError(t, store.SaveCheckpoint(ctx, saved))

	loaded, err := store.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sales", loaded.WorkUnit)
	assert.Equal(t, 42, loaded.FilesDone)
	assert.Equal(t, 100, loaded.FilesTotal)
	assert.Equal(t, "nomic-embed-text", loaded.EmbedderModel)
	assert.Equal(t, saved.DonePaths, loaded.DonePaths)
	assert.False(t, loaded.Timestamp.IsZero())

	require.NoError(t, store.ClearCheckpoint(ctx))
	cleared, err := store.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestSQLiteStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	table := tableDoc("shop.public.orders")
	col := tableDoc("shop.public.orders.id")
	col.Type = docmodel.DocTypeColumn
	col.Degraded = true
	require.NoError(t, store.SaveDocuments(ctx, []*docmodel.Document{table, col}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 1, stats.DocumentsByType[docmodel.DocTypeTable])
	assert.Equal(t, 1, stats.DocumentsByType[docmodel.DocTypeColumn])
	assert.Equal(t, 1, stats.DegradedCount)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err := store.SetState(context.Background(), "k", "v")
	assert.Error(t, err)
}
