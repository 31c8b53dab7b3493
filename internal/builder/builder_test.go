package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/manifest"
	"github.com/schemadex/schemadex/internal/store"
)

// countingEmbedder wraps the static embedder and counts provider calls, so
// tests can assert that no document is ever embedded twice.
type countingEmbedder struct {
	*embed.StaticEmbedder

	mu    sync.Mutex
	calls int
	texts int
	fail  error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(32)}
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) textCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.texts
}

func tableFileContent(table, description string) string {
	return fmt.Sprintf(`# shop.public.%s

%s

## Columns

| Column | Type | Nullable | Description | Sample Values |
|--------|------|----------|-------------|---------------|
| id | bigint | no | Primary key | 1, 2 |
| total | numeric | no | Total amount | 10.50 |

## Relationships

- -> customers ON %s.customer_id = customers.id
`, table, description, table)
}

type fixture struct {
	builder  *Builder
	docs     store.DocumentStore
	bm25     store.BM25Index
	vectors  store.VectorStore
	embedder *countingEmbedder
	docsDir  string
	indexDir string
}

func newFixture(t *testing.T, embedder embed.Embedder) *fixture {
	t.Helper()

	docsDir := t.TempDir()
	indexDir := t.TempDir()

	docs, err := store.NewSQLiteStore(filepath.Join(indexDir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	bm25, err := store.NewSQLiteBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	var vectors store.VectorStore
	if embedder != nil {
		vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = vectors.Close() })
	}

	b, err := New(docs, bm25, vectors, embedder, embed.DefaultGeneratorConfig(), Config{
		DocsDir:  docsDir,
		IndexDir: indexDir,
	})
	require.NoError(t, err)

	f := &fixture{
		builder:  b,
		docs:     docs,
		bm25:     bm25,
		vectors:  vectors,
		docsDir:  docsDir,
		indexDir: indexDir,
	}
	if ce, ok := embedder.(*countingEmbedder); ok {
		f.embedder = ce
	}
	return f
}

// writeTable writes a table doc file and returns its manifest entry.
func (f *fixture) writeTable(t *testing.T, table, description string) manifest.FileEntry {
	t.Helper()
	return f.writeTableFile(t, table, tableFileContent(table, description))
}

// writeTableFile writes explicit table-file content and returns its entry.
func (f *fixture) writeTableFile(t *testing.T, table, content string) manifest.FileEntry {
	t.Helper()
	rel := "tables/" + table + ".md"
	full := filepath.Join(f.docsDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))

	return manifest.FileEntry{
		Path:        rel,
		Type:        manifest.FileTypeTable,
		Database:    "shop",
		Schema:      "public",
		Table:       table,
		ContentHash: docmodel.HashContent(content),
		SizeBytes:   int64(len(content)),
		ModifiedAt:  time.Now(),
	}
}

func completeManifest(entries ...manifest.FileEntry) *manifest.Manifest {
	return &manifest.Manifest{
		SchemaVersion:  manifest.CurrentSchemaVersion,
		CompletedAt:    time.Now(),
		PlanHash:       "plan-" + fmt.Sprint(len(entries)),
		Status:         manifest.StatusComplete,
		IndexableFiles: entries,
	}
}

func TestRunFreshManifestCompletes(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	m := completeManifest(
		f.writeTable(t, "orders", "Customer purchase orders."),
		f.writeTable(t, "customers", "Customer accounts."),
	)

	prog, err := f.builder.Run(ctx, m, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, prog.Status)
	assert.Equal(t, 2, prog.FilesTotal)
	assert.Equal(t, 2, prog.FilesIndexed)
	assert.Zero(t, prog.FilesFailed)
	require.NotNil(t, prog.CompletedAt)

	// One table doc plus two column docs per file.
	stats, err := f.docs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.DocumentCount)
	assert.Equal(t, 2, stats.RelationshipCount)
	assert.Zero(t, stats.DegradedCount)

	assert.Equal(t, 6, f.vectors.Count())
	assert.Equal(t, 6, prog.EmbeddingsGenerated)

	hits, err := f.bm25.Search(ctx, "purchase orders", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	// Column docs link to their table doc.
	table, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders")
	require.NoError(t, err)
	require.NotNil(t, table)
	col, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders.total")
	require.NoError(t, err)
	require.NotNil(t, col)
	require.NotNil(t, col.ParentDocID)
	assert.Equal(t, table.ID, *col.ParentDocID)

	// Run state recorded for the search surface.
	dim, err := f.docs.GetState(ctx, store.StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "32", dim)
	status, err := f.docs.GetState(ctx, store.StateKeyLastRunStatus)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), status)

	// Progress file on disk matches the returned record.
	onDisk, err := LoadProgress(filepath.Join(f.indexDir, ProgressFileName))
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, StatusCompleted, onDisk.Status)
}

func TestRunUnchangedManifestIsIdempotent(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	m := completeManifest(f.writeTable(t, "orders", "Customer purchase orders."))

	_, err := f.builder.Run(ctx, m, Options{})
	require.NoError(t, err)
	embedded := f.embedder.textCount()
	require.Greater(t, embedded, 0)

	prog, err := f.builder.Run(ctx, m, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, prog.Status)
	assert.Equal(t, 1, prog.FilesSkipped)
	assert.Zero(t, prog.FilesIndexed)

	// No document was re-embedded.
	assert.Equal(t, embedded, f.embedder.textCount())

	stats, err := f.docs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentCount)
}

func TestRunChangedFileIsReindexed(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	_, err := f.builder.Run(ctx, completeManifest(f.writeTable(t, "orders", "Original description.")), Options{})
	require.NoError(t, err)

	before, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders")
	require.NoError(t, err)

	m := completeManifest(f.writeTable(t, "orders", "Rewritten description."))
	prog, err := f.builder.Run(ctx, m, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, prog.FilesIndexed)
	assert.Zero(t, prog.FilesSkipped)

	after, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "identity keeps its id across content changes")
	assert.NotEqual(t, before.ContentHash, after.ContentHash)
}

func TestRunDeletionsAppliedFromCompleteManifest(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	orders := f.writeTable(t, "orders", "Customer purchase orders.")
	customers := f.writeTable(t, "customers", "Customer accounts.")
	_, err := f.builder.Run(ctx, completeManifest(orders, customers), Options{})
	require.NoError(t, err)

	// Next generation no longer lists customers.
	prog, err := f.builder.Run(ctx, completeManifest(orders), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, prog.Status)

	gone, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.customers")
	require.NoError(t, err)
	assert.Nil(t, gone)
	goneCol, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.customers.total")
	require.NoError(t, err)
	assert.Nil(t, goneCol)

	kept, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	assert.Equal(t, 3, f.vectors.Count())
}

func TestRunPartialManifestNeverDeletes(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	orders := f.writeTable(t, "orders", "Customer purchase orders.")
	customers := f.writeTable(t, "customers", "Customer accounts.")
	_, err := f.builder.Run(ctx, completeManifest(orders, customers), Options{})
	require.NoError(t, err)

	partial := completeManifest(orders)
	partial.Status = manifest.StatusPartial
	_, err = f.builder.Run(ctx, partial, Options{})
	require.NoError(t, err)

	kept, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.customers")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestRunMissingFileDegradesToPartial(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	orders := f.writeTable(t, "orders", "Customer purchase orders.")
	ghost := manifest.FileEntry{
		Path:        "tables/ghost.md",
		Type:        manifest.FileTypeTable,
		Database:    "shop",
		Schema:      "public",
		Table:       "ghost",
		ContentHash: docmodel.HashContent("never written"),
	}

	prog, err := f.builder.Run(ctx, completeManifest(orders, ghost), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, prog.Status)
	assert.Equal(t, 1, prog.FilesIndexed)
	assert.Equal(t, 1, prog.FilesFailed)
	require.NotEmpty(t, prog.Errors)
	assert.Contains(t, prog.Errors[0], "ghost.md")
}

func TestRunFailingEmbedderKeepsKeywordSearch(t *testing.T) {
	embedder := newCountingEmbedder()
	embedder.fail = fmt.Errorf("provider down")
	f := newFixture(t, embedder)
	ctx := context.Background()

	prog, err := f.builder.Run(ctx, completeManifest(f.writeTable(t, "orders", "Customer purchase orders.")), Options{})
	require.NoError(t, err)

	// Documents are still indexed for keywords, with zero vectors.
	assert.Equal(t, StatusPartial, prog.Status)
	assert.Equal(t, 1, prog.FilesIndexed)
	assert.Zero(t, prog.EmbeddingsGenerated)
	assert.Zero(t, f.vectors.Count())

	stats, err := f.docs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Equal(t, 3, stats.DegradedCount)

	hits, err := f.bm25.Search(ctx, "purchase orders", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestRunWithoutEmbedderIsKeywordOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	prog, err := f.builder.Run(ctx, completeManifest(f.writeTable(t, "orders", "Customer purchase orders.")), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, prog.Status)
	hits, err := f.bm25.Search(ctx, "orders", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	orders := f.writeTable(t, "orders", "Customer purchase orders.")
	ghost := manifest.FileEntry{
		Path: "tables/ghost.md", Type: manifest.FileTypeTable,
		Database: "shop", Schema: "public", Table: "ghost",
		ContentHash: "deadbeef",
	}

	prog, err := f.builder.Run(ctx, completeManifest(orders, ghost), Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, prog.Status)
	assert.Equal(t, 2, prog.FilesTotal)
	assert.Equal(t, 1, prog.FilesFailed)

	stats, err := f.docs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentCount)
	assert.Zero(t, f.embedder.textCount())
}

func TestResumeSkipsCommittedFiles(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	orders := f.writeTable(t, "orders", "Customer purchase orders.")
	customers := f.writeTable(t, "customers", "Customer accounts.")

	// Simulate an interrupted run that committed orders before dying.
	require.NoError(t, f.docs.SaveCheckpoint(ctx, &store.Checkpoint{
		WorkUnit:      "default",
		FilesDone:     1,
		FilesTotal:    2,
		Timestamp:     time.Now(),
		EmbedderModel: f.embedder.ModelName(),
		DonePaths:     []string{orders.Path},
	}))

	prog, err := f.builder.Run(ctx, completeManifest(orders, customers), Options{Resume: true})
	require.NoError(t, err)

	// orders is skipped from the checkpoint; only customers is embedded.
	assert.Equal(t, 1, prog.FilesIndexed)
	assert.Equal(t, 1, prog.FilesSkipped)
	assert.Equal(t, 3, f.embedder.textCount())

	// The finished run clears its checkpoint.
	cp, err := f.docs.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestResumeRejectsEmbedderModelChange(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	require.NoError(t, f.docs.SaveCheckpoint(ctx, &store.Checkpoint{
		WorkUnit:      "default",
		Timestamp:     time.Now(),
		EmbedderModel: "some-other-model",
		DonePaths:     []string{"tables/orders.md"},
	}))

	m := completeManifest(f.writeTable(t, "orders", "Customer purchase orders."))
	_, err := f.builder.Run(ctx, m, Options{Resume: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "some-other-model")
}

func TestWorkUnitRestriction(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	orders := f.writeTable(t, "orders", "Customer purchase orders.")
	customers := f.writeTable(t, "customers", "Customer accounts.")
	m := completeManifest(orders, customers)
	m.WorkUnits = []manifest.WorkUnit{
		{Name: "sales", Files: []string{orders.Path}},
		{Name: "crm", Files: []string{customers.Path}},
	}

	prog, err := f.builder.Run(ctx, m, Options{WorkUnit: "sales"})
	require.NoError(t, err)

	assert.Equal(t, 1, prog.FilesTotal)
	assert.Equal(t, 1, prog.FilesIndexed)

	indexed, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders")
	require.NoError(t, err)
	assert.NotNil(t, indexed)
	absent, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.customers")
	require.NoError(t, err)
	assert.Nil(t, absent)

	_, err = f.builder.Run(ctx, m, Options{WorkUnit: "shipping"})
	require.Error(t, err)
}

func TestForceReindexesEverything(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	m := completeManifest(f.writeTable(t, "orders", "Customer purchase orders."))
	_, err := f.builder.Run(ctx, m, Options{})
	require.NoError(t, err)
	first := f.embedder.textCount()

	prog, err := f.builder.Run(ctx, m, Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, 1, prog.FilesIndexed)
	assert.Zero(t, prog.FilesSkipped)
	assert.Equal(t, first*2, f.embedder.textCount())
}

// interruptingEmbedder embeds its first batch, then kills the run context
// during the second, simulating a crash mid-run.
type interruptingEmbedder struct {
	*embed.StaticEmbedder

	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (e *interruptingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()

	if n == 2 {
		e.cancel()
		return nil, context.Canceled
	}
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestInterruptedRunKeepsCheckpointedVectorsOnResume(t *testing.T) {
	ctx := context.Background()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	embedder := &interruptingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(32), cancel: cancel}
	f := newFixture(t, embedder)

	b1, err := New(f.docs, f.bm25, f.vectors, embedder, embed.DefaultGeneratorConfig(), Config{
		DocsDir:            f.docsDir,
		IndexDir:           f.indexDir,
		CheckpointInterval: 1,
	})
	require.NoError(t, err)

	m := completeManifest(
		f.writeTable(t, "orders", "Customer purchase orders."),
		f.writeTable(t, "customers", "Customer accounts."),
		f.writeTable(t, "invoices", "Billing invoices."),
	)

	// Run 1: orders commits and checkpoints, then the run dies during
	// customers' embedding batch; invoices is never reached.
	_, err = b1.Run(runCtx, m, Options{})
	require.Error(t, err)

	cp, err := f.docs.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Contains(t, cp.DonePaths, "tables/orders.md")

	// The checkpoint made the vector index durable, not just the cursor.
	vectorFile := filepath.Join(f.indexDir, VectorIndexFileName)
	require.FileExists(t, vectorFile)

	// Run 2 resumes against a vector store reopened from disk, as a new
	// process would.
	vectors2, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(32))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors2.Close() })
	require.NoError(t, vectors2.Load(vectorFile))
	assert.Equal(t, 3, vectors2.Count())

	embedder2 := newCountingEmbedder()
	b2, err := New(f.docs, f.bm25, vectors2, embedder2, embed.DefaultGeneratorConfig(), Config{
		DocsDir:  f.docsDir,
		IndexDir: f.indexDir,
	})
	require.NoError(t, err)

	prog, err := b2.Run(ctx, m, Options{Resume: true})
	require.NoError(t, err)

	// Only orders was committed before the interruption: it is skipped and
	// never re-embedded. customers (metadata written, vectors lost) and
	// invoices (never reached) are processed.
	assert.Equal(t, StatusCompleted, prog.Status)
	assert.Equal(t, 1, prog.FilesSkipped)
	assert.Equal(t, 2, prog.FilesIndexed)
	assert.Equal(t, 6, embedder2.textCount())

	// Same final state as an uninterrupted run: every document present,
	// embedded exactly once, none degraded.
	orders, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders")
	require.NoError(t, err)
	require.NotNil(t, orders)
	assert.True(t, vectors2.Contains(docmodel.DocID(orders.ID)))
	assert.Equal(t, 9, vectors2.Count())

	stats, err := f.docs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, stats.DocumentCount)
	assert.Zero(t, stats.DegradedCount)
}

func TestChangedFileRemovesDroppedColumns(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	header := "# shop.public.orders\n\nCustomer purchase orders.\n\n## Columns\n\n" +
		"| Column | Type | Nullable | Description | Sample Values |\n" +
		"|--------|------|----------|-------------|---------------|\n" +
		"| id | bigint | no | Primary key | 1, 2 |\n"
	withLegacy := header + "| legacy_code | text | yes | Deprecated mainframe billing reference | LGC-1 |\n"

	_, err := f.builder.Run(ctx, completeManifest(f.writeTableFile(t, "orders", withLegacy)), Options{})
	require.NoError(t, err)

	stale, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders.legacy_code")
	require.NoError(t, err)
	require.NotNil(t, stale)
	staleKey := docmodel.DocID(stale.ID)
	assert.True(t, f.vectors.Contains(staleKey))

	// The next generation drops the column but keeps the file.
	prog, err := f.builder.Run(ctx, completeManifest(f.writeTableFile(t, "orders", header)), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, prog.Status)
	assert.Equal(t, 1, prog.FilesIndexed)

	gone, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders.legacy_code")
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.False(t, f.vectors.Contains(staleKey))

	keys, err := f.bm25.AllIDs()
	require.NoError(t, err)
	assert.NotContains(t, keys, staleKey)

	kept, err := f.docs.GetDocumentByIdentity(ctx, "shop.public.orders.id")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	stats, err := f.docs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
}

func TestColumnWorkerBoundKeepsExtraction(t *testing.T) {
	f := newFixture(t, newCountingEmbedder())
	ctx := context.Background()

	b, err := New(f.docs, f.bm25, f.vectors, embed.NewStaticEmbedder(32), embed.DefaultGeneratorConfig(), Config{
		DocsDir:       f.docsDir,
		IndexDir:      f.indexDir,
		ColumnWorkers: 1,
	})
	require.NoError(t, err)

	_, err = b.Run(ctx, completeManifest(f.writeTable(t, "orders", "Customer purchase orders.")), Options{})
	require.NoError(t, err)

	for _, identity := range []string{"shop.public.orders", "shop.public.orders.id", "shop.public.orders.total"} {
		doc, err := f.docs.GetDocumentByIdentity(ctx, identity)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.NotEmpty(t, doc.Keywords, identity)
	}
}

func TestRunLockExcludesConcurrentRuns(t *testing.T) {
	dir := t.TempDir()

	release, err := AcquireRunLock(dir)
	require.NoError(t, err)
	defer release()

	_, err = AcquireRunLock(dir)
	require.Error(t, err)
}
