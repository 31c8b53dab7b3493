// Package builder orchestrates an indexing run: manifest validation, change
// detection, parsing, keyword extraction, embedding, and transactional index
// writes, with checkpointed resumption and end-of-run deletions.
package builder

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schemadex/schemadex/internal/delta"
	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/errors"
	"github.com/schemadex/schemadex/internal/keyword"
	"github.com/schemadex/schemadex/internal/manifest"
	"github.com/schemadex/schemadex/internal/parser"
	"github.com/schemadex/schemadex/internal/store"
)

// RunStatus is the state of an indexing run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
)

// Default orchestration parameters.
const (
	// DefaultCheckpointInterval is how many committed documents pass between
	// checkpoint writes.
	DefaultCheckpointInterval = 100

	// DefaultWorkUnitWorkers bounds concurrent work units, which in turn
	// caps concurrent embedding provider calls.
	DefaultWorkUnitWorkers = 3

	// DefaultColumnWorkers bounds concurrent per-document extraction tasks
	// within one file.
	DefaultColumnWorkers = 5

	// VectorIndexFileName is the vector index file inside the index dir.
	VectorIndexFileName = "vectors.hnsw"

	// ProgressFileName is the progress file inside the index dir.
	ProgressFileName = "progress.json"
)

// Config configures a builder.
type Config struct {
	// DocsDir is the documentation root the manifest paths are relative to.
	DocsDir string

	// IndexDir holds the index files, run lock, and progress file.
	IndexDir string

	// CheckpointInterval is the commit count between checkpoints.
	CheckpointInterval int

	// WorkUnitWorkers bounds concurrent work units.
	WorkUnitWorkers int

	// ColumnWorkers bounds concurrent per-document extraction within a file.
	ColumnWorkers int
}

// Options are per-run flags.
type Options struct {
	// Force reprocesses every valid file regardless of stored hashes.
	Force bool

	// Resume continues from the persisted checkpoint, skipping files
	// already committed in the interrupted run.
	Resume bool

	// DryRun validates the manifest and reports, writing nothing.
	DryRun bool

	// WorkUnit restricts the run to one named work unit. Deletions are
	// never applied in a restricted run.
	WorkUnit string
}

// Builder runs the indexing pipeline against a manifest.
type Builder struct {
	docs      store.DocumentStore
	bm25      store.BM25Index
	vectors   store.VectorStore
	generator *embed.Generator
	embedder  embed.Embedder

	validator *manifest.Validator
	parser    *parser.Parser
	detector  *delta.Detector
	extractor *keyword.Extractor

	cfg Config

	mu              sync.Mutex
	prog            *Progress
	donePaths       map[string]struct{}
	docsFailed      int
	sinceCheckpoint int
	currentUnit     string
}

// New wires a builder. The embedder may be nil, which produces a
// keyword-only (degraded) index.
func New(docs store.DocumentStore, bm25 store.BM25Index, vectors store.VectorStore, embedder embed.Embedder, genCfg embed.GeneratorConfig, cfg Config) (*Builder, error) {
	if docs == nil || bm25 == nil {
		return nil, fmt.Errorf("builder: nil store dependency")
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.WorkUnitWorkers <= 0 {
		cfg.WorkUnitWorkers = DefaultWorkUnitWorkers
	}
	if cfg.ColumnWorkers <= 0 {
		cfg.ColumnWorkers = DefaultColumnWorkers
	}

	b := &Builder{
		docs:      docs,
		bm25:      bm25,
		vectors:   vectors,
		embedder:  embedder,
		validator: manifest.NewValidator(cfg.DocsDir),
		parser:    parser.New(cfg.DocsDir),
		detector:  delta.New(docs),
		extractor: keyword.NewExtractor(),
		cfg:       cfg,
		donePaths: make(map[string]struct{}),
	}
	if embedder != nil {
		b.generator = embed.NewGenerator(embedder, genCfg)
	}
	return b, nil
}

// Run executes one indexing run and returns its terminal progress record.
// Fatal errors (lock held, invalid options, resume/model mismatch) return
// an error with nothing committed; per-file errors accumulate into the
// progress record instead.
func (b *Builder) Run(ctx context.Context, m *manifest.Manifest, opts Options) (*Progress, error) {
	units, err := b.selectUnits(m, opts)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return b.dryRun(m, units)
	}

	release, err := AcquireRunLock(b.cfg.IndexDir)
	if err != nil {
		return nil, err
	}
	defer release()

	// Per-run state. A Builder may run more than once.
	b.mu.Lock()
	b.donePaths = make(map[string]struct{})
	b.docsFailed = 0
	b.sinceCheckpoint = 0
	b.currentUnit = ""
	b.mu.Unlock()

	if err := b.checkDimensionState(ctx, opts); err != nil {
		return nil, err
	}
	if err := b.prepareResume(ctx, opts); err != nil {
		return nil, err
	}

	total := 0
	for _, u := range units {
		total += len(u.Files)
	}

	b.mu.Lock()
	b.prog = &Progress{
		StartedAt:  time.Now().UTC(),
		Status:     StatusRunning,
		FilesTotal: total,
	}
	b.mu.Unlock()
	b.writeProgress()

	slog.Info("index_run_started",
		slog.String("plan_hash", m.PlanHash),
		slog.Int("files_total", total),
		slog.Int("work_units", len(units)),
		slog.Bool("force", opts.Force),
		slog.Bool("resume", opts.Resume))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.WorkUnitWorkers)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			return b.processUnit(gctx, m, unit, opts)
		})
	}
	runErr := g.Wait()

	if runErr != nil {
		// Cancellation mid-run: flush the checkpoint so the run is
		// resumable, record partial state, and surface the error.
		b.flushCheckpoint(context.WithoutCancel(ctx))
		b.finishProgress(StatusPartial, fmt.Sprintf("run interrupted: %v", runErr))
		return b.snapshot(), runErr
	}

	// Deletions are deferred to end-of-run so a crash never shrinks the
	// index below any previously successful state.
	if m.Status == manifest.StatusComplete && opts.WorkUnit == "" {
		if err := b.applyDeletions(ctx, m); err != nil {
			b.recordError("", err)
		}
	}

	status := b.terminalStatus()
	if err := b.persistRunState(ctx, m, status); err != nil {
		b.recordError("", err)
		status = b.terminalStatus()
	}
	b.finishProgress(status, "")

	slog.Info("index_run_finished",
		slog.String("status", string(status)),
		slog.Int("files_indexed", b.snapshot().FilesIndexed),
		slog.Int("files_failed", b.snapshot().FilesFailed),
		slog.Int("files_skipped", b.snapshot().FilesSkipped))

	return b.snapshot(), nil
}

// selectUnits resolves the work units for this run.
func (b *Builder) selectUnits(m *manifest.Manifest, opts Options) ([]manifest.WorkUnit, error) {
	units := m.Units()
	if opts.WorkUnit == "" {
		return units, nil
	}
	for _, u := range units {
		if u.Name == opts.WorkUnit {
			return []manifest.WorkUnit{u}, nil
		}
	}
	return nil, errors.New(errors.ErrCodeInvalidInput,
		fmt.Sprintf("manifest has no work unit named %q", opts.WorkUnit), nil)
}

// dryRun validates the working set and reports without touching the index.
func (b *Builder) dryRun(m *manifest.Manifest, units []manifest.WorkUnit) (*Progress, error) {
	now := time.Now().UTC()
	prog := &Progress{StartedAt: now, Status: StatusCompleted}

	for _, unit := range units {
		prog.FilesTotal += len(unit.Files)
		vr, err := b.validator.ValidateSubset(m, unit.Files)
		if err != nil {
			return nil, err
		}
		for _, fe := range vr.Errors {
			prog.FilesFailed++
			prog.Errors = append(prog.Errors, fe.Error())
		}
	}
	if prog.FilesFailed > 0 {
		prog.Status = StatusPartial
	}
	done := time.Now().UTC()
	prog.CompletedAt = &done
	return prog, nil
}

// checkDimensionState refuses to mix embedding dimensions in one index.
func (b *Builder) checkDimensionState(ctx context.Context, opts Options) error {
	if b.embedder == nil || opts.Force {
		return nil
	}
	stored, err := b.docs.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil || stored == "" {
		return err
	}
	dims, err := strconv.Atoi(stored)
	if err != nil {
		return nil
	}
	if dims != b.embedder.Dimensions() {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index built with dimension %d, embedder produces %d; rebuild with --force", dims, b.embedder.Dimensions()), nil)
	}
	return nil
}

// prepareResume loads or clears the persisted checkpoint per the options.
func (b *Builder) prepareResume(ctx context.Context, opts Options) error {
	if !opts.Resume || opts.Force {
		return b.docs.ClearCheckpoint(ctx)
	}

	cp, err := b.docs.LoadCheckpoint(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		return nil
	}
	if b.embedder != nil && cp.EmbedderModel != "" && cp.EmbedderModel != b.embedder.ModelName() {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("checkpoint was written with model %q, current embedder is %q; restart without --resume", cp.EmbedderModel, b.embedder.ModelName()), nil)
	}

	b.mu.Lock()
	for _, p := range cp.DonePaths {
		b.donePaths[p] = struct{}{}
	}
	b.mu.Unlock()

	slog.Info("resume_from_checkpoint",
		slog.String("work_unit", cp.WorkUnit),
		slog.Int("files_done", len(cp.DonePaths)))
	return nil
}

// processUnit runs the full pipeline for one work unit. Per-file failures
// are recorded and skipped; only context errors propagate.
func (b *Builder) processUnit(ctx context.Context, m *manifest.Manifest, unit manifest.WorkUnit, opts Options) error {
	vr, err := b.validator.ValidateSubset(m, unit.Files)
	if err != nil {
		return err
	}
	for _, fe := range vr.Errors {
		b.recordError(fe.Path, fe)
	}

	var toProcess []manifest.FileEntry
	if opts.Force {
		toProcess = vr.Valid
	} else {
		cs, err := b.detector.Classify(ctx, vr.Valid, false)
		if err != nil {
			return err
		}
		toProcess = cs.ToProcess()

		// An unchanged hash is not enough to skip: a run interrupted
		// between a file's metadata write and its embedding write leaves
		// documents with no vector and no degraded flag. Those files are
		// reprocessed, not skipped.
		for _, entry := range cs.Unchanged {
			if b.alreadyDone(entry.Path) {
				b.addSkipped(1)
				continue
			}
			covered, err := b.vectorsCovered(ctx, entry.Path)
			if err != nil {
				b.recordError(entry.Path, err)
				continue
			}
			if covered {
				b.addSkipped(1)
			} else {
				toProcess = append(toProcess, entry)
			}
		}
	}

	for _, entry := range toProcess {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.alreadyDone(entry.Path) {
			b.addSkipped(1)
			continue
		}
		b.processFile(ctx, unit.Name, entry)
	}
	return nil
}

// processFile parses, extracts, embeds, and commits one file. All failures
// are per-file: they mark the file failed and return without aborting the
// work unit. Write ordering per document: metadata first, then keyword and
// vector entries, so a reader never sees a vector without metadata.
func (b *Builder) processFile(ctx context.Context, unitName string, entry manifest.FileEntry) {
	b.setCurrent(unitName, entry.Path)

	parsed, err := b.parser.ParseFile(entry)
	if err != nil {
		b.recordError(entry.Path, err)
		return
	}

	// Column-level extraction runs with bounded parallelism; each worker
	// owns one document, so no shared mutable state.
	eg := new(errgroup.Group)
	eg.SetLimit(b.cfg.ColumnWorkers)
	for _, doc := range parsed.Documents {
		doc := doc
		eg.Go(func() error {
			doc.Keywords = b.extractor.Extract(doc)
			return nil
		})
	}
	_ = eg.Wait()

	// The root document is saved first so derived children can reference
	// its store-assigned id.
	root := parsed.Documents[0]
	if err := b.docs.SaveDocuments(ctx, parsed.Documents[:1]); err != nil {
		b.recordError(entry.Path, err)
		return
	}
	children := parsed.Documents[1:]
	for _, child := range children {
		parentID := root.ID
		child.ParentDocID = &parentID
	}
	if len(children) > 0 {
		if err := b.docs.SaveDocuments(ctx, children); err != nil {
			b.recordError(entry.Path, err)
			return
		}
	}

	// A changed file may produce fewer documents than before, e.g. a
	// dropped column. Documents the file no longer yields are removed
	// from all three stores here; applyDeletions only covers files that
	// vanished entirely.
	if err := b.pruneStaleDocuments(ctx, entry.Path, parsed.Documents); err != nil {
		b.recordError(entry.Path, err)
		return
	}

	if root.Type == docmodel.DocTypeTable {
		if err := b.docs.SaveRelationships(ctx, root.Identity, parsed.Relationships); err != nil {
			b.recordError(entry.Path, err)
			return
		}
	}

	embedded := b.embedDocuments(ctx, entry.Path, parsed.Documents)

	bm25Docs := make([]*store.Document, len(parsed.Documents))
	for i, doc := range parsed.Documents {
		bm25Docs[i] = &store.Document{ID: docmodel.DocID(doc.ID), Content: doc.Content}
	}
	if err := b.bm25.Index(ctx, bm25Docs); err != nil {
		b.recordError(entry.Path, err)
		return
	}

	b.commitFile(ctx, entry.Path, len(parsed.Documents), embedded)
}

// vectorsCovered reports whether every non-degraded document of an indexed
// file has a vector entry.
func (b *Builder) vectorsCovered(ctx context.Context, path string) (bool, error) {
	if b.vectors == nil {
		return true, nil
	}
	docs, err := b.docs.ListDocumentsByFile(ctx, path)
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if doc.Degraded {
			continue
		}
		if !b.vectors.Contains(docmodel.DocID(doc.ID)) {
			return false, nil
		}
	}
	return true, nil
}

// pruneStaleDocuments deletes documents previously sourced from a file that
// its current content no longer produces.
func (b *Builder) pruneStaleDocuments(ctx context.Context, path string, fresh []*docmodel.Document) error {
	stored, err := b.docs.ListDocumentsByFile(ctx, path)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(fresh))
	for _, doc := range fresh {
		keep[doc.Identity] = struct{}{}
	}

	var ids []int64
	var keys []string
	for _, doc := range stored {
		if _, ok := keep[doc.Identity]; ok {
			continue
		}
		ids = append(ids, doc.ID)
		keys = append(keys, docmodel.DocID(doc.ID))
	}
	if len(ids) == 0 {
		return nil
	}

	if err := b.bm25.Delete(ctx, keys); err != nil {
		return err
	}
	if b.vectors != nil {
		if err := b.vectors.Delete(ctx, keys); err != nil {
			return err
		}
	}
	if err := b.docs.DeleteDocuments(ctx, ids); err != nil {
		return err
	}

	slog.Info("stale_documents_pruned",
		slog.String("file", path),
		slog.Int("documents", len(ids)))
	return nil
}

// embedDocuments generates and stores vectors for a file's documents,
// returning the number of embeddings written. Failed documents are marked
// degraded (keyword-only) and counted toward a partial run status.
func (b *Builder) embedDocuments(ctx context.Context, path string, docs []*docmodel.Document) int {
	if b.generator == nil || b.vectors == nil {
		for _, doc := range docs {
			doc.Degraded = true
		}
		b.addDocsFailed(len(docs))
		if err := b.docs.SaveDocuments(ctx, docs); err != nil {
			b.recordError(path, err)
		}
		return 0
	}

	items := make([]embed.Item, len(docs))
	byID := make(map[int64]*docmodel.Document, len(docs))
	for i, doc := range docs {
		items[i] = embed.Item{DocID: doc.ID, Text: doc.Content}
		byID[doc.ID] = doc
	}

	var (
		ids      []string
		vectors  [][]float32
		degraded []*docmodel.Document
	)
	for _, res := range b.generator.Generate(ctx, items) {
		doc := byID[res.DocID]
		if res.Failed() {
			doc.Degraded = true
			degraded = append(degraded, doc)
			continue
		}
		ids = append(ids, docmodel.DocID(res.DocID))
		vectors = append(vectors, res.Vector)
	}

	if len(degraded) > 0 {
		b.addDocsFailed(len(degraded))
		if err := b.docs.SaveDocuments(ctx, degraded); err != nil {
			b.recordError(path, err)
		}
	}
	if len(ids) > 0 {
		if err := b.vectors.Add(ctx, ids, vectors); err != nil {
			b.recordError(path, err)
			return 0
		}
	}
	return len(ids)
}

// commitFile marks a file fully committed and checkpoints if due.
func (b *Builder) commitFile(ctx context.Context, path string, docCount, embedded int) {
	b.mu.Lock()
	b.donePaths[path] = struct{}{}
	b.prog.FilesIndexed++
	b.prog.EmbeddingsGenerated += embedded
	b.sinceCheckpoint += docCount
	due := b.sinceCheckpoint >= b.cfg.CheckpointInterval
	b.mu.Unlock()

	if due {
		b.flushCheckpoint(ctx)
	}
}

// setCurrent records the file being worked on, for the progress surface.
func (b *Builder) setCurrent(unit, path string) {
	b.mu.Lock()
	b.currentUnit = unit
	b.prog.CurrentFile = path
	b.mu.Unlock()
}

// addDocsFailed counts documents that lost their embedding.
func (b *Builder) addDocsFailed(n int) {
	if n == 0 {
		return
	}
	b.mu.Lock()
	b.docsFailed += n
	b.mu.Unlock()
}

// addSkipped bumps the skip counter.
func (b *Builder) addSkipped(n int) {
	if n == 0 {
		return
	}
	b.mu.Lock()
	b.prog.FilesSkipped += n
	b.mu.Unlock()
}

// alreadyDone reports whether a path was committed by an earlier
// checkpointed run.
func (b *Builder) alreadyDone(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.donePaths[path]
	return ok
}

// recordError marks a file (or the run, for empty path) as failed.
func (b *Builder) recordError(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if path != "" {
		b.prog.FilesFailed++
		b.prog.Errors = append(b.prog.Errors, fmt.Sprintf("%s: %v", path, err))
	} else {
		b.prog.Errors = append(b.prog.Errors, err.Error())
	}
}

// terminalStatus derives the run's terminal state from accumulated errors.
func (b *Builder) terminalStatus() RunStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prog.FilesFailed == 0 && b.docsFailed == 0 {
		return StatusCompleted
	}
	return StatusPartial
}

// applyDeletions removes documents whose identities vanished from a
// complete manifest generation.
func (b *Builder) applyDeletions(ctx context.Context, m *manifest.Manifest) error {
	cs, err := b.detector.Classify(ctx, m.IndexableFiles, true)
	if err != nil {
		return err
	}
	if len(cs.DeletedIdentities) == 0 {
		return nil
	}

	var ids []int64
	var keys []string
	for _, identity := range cs.DeletedIdentities {
		doc, err := b.docs.GetDocumentByIdentity(ctx, identity)
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}
		ids = append(ids, doc.ID)
		keys = append(keys, docmodel.DocID(doc.ID))
		if doc.Type == docmodel.DocTypeTable {
			if err := b.docs.DeleteRelationshipsBySource(ctx, identity); err != nil {
				return err
			}
		}
	}

	if err := b.bm25.Delete(ctx, keys); err != nil {
		return err
	}
	if b.vectors != nil {
		if err := b.vectors.Delete(ctx, keys); err != nil {
			return err
		}
	}
	if err := b.docs.DeleteDocuments(ctx, ids); err != nil {
		return err
	}

	slog.Info("deletions_applied", slog.Int("documents", len(ids)))
	return nil
}

// persistIndexes flushes the keyword and vector indexes to disk. Both the
// end-of-run path and every checkpoint go through here: a file may only be
// recorded as done once its index entries are durable.
func (b *Builder) persistIndexes() error {
	var errs []error
	if err := b.bm25.Save(); err != nil {
		errs = append(errs, err)
	}
	if b.vectors != nil {
		if err := b.vectors.Save(filepath.Join(b.cfg.IndexDir, VectorIndexFileName)); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// persistRunState saves indexes and run-level state at end of run.
func (b *Builder) persistRunState(ctx context.Context, m *manifest.Manifest, status RunStatus) error {
	var errs []error

	if err := b.persistIndexes(); err != nil {
		errs = append(errs, err)
	}

	if err := b.docs.SetState(ctx, store.StateKeyManifestHash, m.PlanHash); err != nil {
		errs = append(errs, err)
	}
	if err := b.docs.SetState(ctx, store.StateKeyLastRunStatus, string(status)); err != nil {
		errs = append(errs, err)
	}
	if err := b.docs.SetState(ctx, store.StateKeyLastRunAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		errs = append(errs, err)
	}
	if b.embedder != nil {
		if err := b.docs.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(b.embedder.Dimensions())); err != nil {
			errs = append(errs, err)
		}
		if err := b.docs.SetState(ctx, store.StateKeyIndexModel, b.embedder.ModelName()); err != nil {
			errs = append(errs, err)
		}
	}

	if err := b.docs.ClearCheckpoint(ctx); err != nil {
		errs = append(errs, err)
	}

	return stderrors.Join(errs...)
}

// flushCheckpoint persists the current cursor unconditionally. Index files
// are flushed first: resume skips every path in the checkpoint, so a path
// must never be recorded as done while its vectors exist only in memory.
func (b *Builder) flushCheckpoint(ctx context.Context) {
	b.mu.Lock()
	cp := b.checkpointLocked()
	b.mu.Unlock()

	if err := b.persistIndexes(); err != nil {
		slog.Error("checkpoint_index_flush_failed", slog.String("error", err.Error()))
		return
	}
	if err := b.docs.SaveCheckpoint(ctx, cp); err != nil {
		slog.Error("checkpoint_flush_failed", slog.String("error", err.Error()))
		return
	}
	b.markCheckpointWritten()
}

// checkpointLocked builds a checkpoint from current state. Caller holds mu.
func (b *Builder) checkpointLocked() *store.Checkpoint {
	paths := make([]string, 0, len(b.donePaths))
	for p := range b.donePaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	model := ""
	if b.embedder != nil {
		model = b.embedder.ModelName()
	}
	return &store.Checkpoint{
		WorkUnit:      b.currentUnit,
		FilesDone:     b.prog.FilesIndexed,
		FilesTotal:    b.prog.FilesTotal,
		Timestamp:     time.Now().UTC(),
		EmbedderModel: model,
		DonePaths:     paths,
	}
}

// markCheckpointWritten records the checkpoint time and rewrites progress.
func (b *Builder) markCheckpointWritten() {
	now := time.Now().UTC()
	b.mu.Lock()
	b.prog.LastCheckpoint = &now
	b.sinceCheckpoint = 0
	b.mu.Unlock()
	b.writeProgress()
}

// finishProgress seals the progress record.
func (b *Builder) finishProgress(status RunStatus, note string) {
	now := time.Now().UTC()
	b.mu.Lock()
	b.prog.Status = status
	b.prog.CompletedAt = &now
	b.prog.CurrentFile = ""
	if note != "" {
		b.prog.Errors = append(b.prog.Errors, note)
	}
	b.mu.Unlock()
	b.writeProgress()
}

// writeProgress writes the progress file; failures are logged, not fatal.
func (b *Builder) writeProgress() {
	b.mu.Lock()
	snapshot := *b.prog
	b.mu.Unlock()

	path := filepath.Join(b.cfg.IndexDir, ProgressFileName)
	if err := WriteProgress(path, &snapshot); err != nil {
		slog.Error("progress_write_failed", slog.String("error", err.Error()))
	}
}

// snapshot returns a copy of the current progress record.
func (b *Builder) snapshot() *Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := *b.prog
	return &snapshot
}
