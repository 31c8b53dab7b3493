// Package store is the persistence layer: document metadata and
// relationships in SQLite, keyword search in a BM25 index (SQLite FTS5 or
// Bleve), and semantic search in an HNSW vector index.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/keyword"
)

// CurrentSchemaVersion is the current metadata database schema version.
const CurrentSchemaVersion = 1

// State keys for the metadata store.
const (
	// StateKeyIndexDimension stores the embedding dimension the index was
	// built with. Guards against mixing vectors from different models.
	StateKeyIndexDimension = "index_embedding_dimension"

	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"

	// StateKeyManifestHash stores the planHash of the last fully applied
	// manifest.
	StateKeyManifestHash = "last_manifest_hash"

	// StateKeyLastRunStatus stores the terminal status of the last build
	// run: "completed", "partial", or "failed".
	StateKeyLastRunStatus = "last_run_status"

	// StateKeyLastRunAt stores the RFC3339 timestamp of the last run.
	StateKeyLastRunAt = "last_run_at"
)

// Checkpoint state keys for resumable indexing.
const (
	StateKeyCheckpointUnit      = "checkpoint_work_unit"
	StateKeyCheckpointDone      = "checkpoint_files_done"
	StateKeyCheckpointTotal     = "checkpoint_files_total"
	StateKeyCheckpointTimestamp = "checkpoint_timestamp"
	StateKeyCheckpointModel     = "checkpoint_embedder_model"
)

// Checkpoint is the saved progress of a build run, used to resume after
// interruption without re-embedding finished files.
type Checkpoint struct {
	WorkUnit      string    // Work unit in progress.
	FilesDone     int       // Files fully committed in this unit.
	FilesTotal    int       // Total files across all units in this run.
	Timestamp     time.Time // When the checkpoint was last written.
	EmbedderModel string    // Model name; resume aborts on mismatch.
	DonePaths     []string  // Committed file paths (the resume skip set).
}

// StoreStats summarizes metadata store contents.
type StoreStats struct {
	DocumentCount     int
	DocumentsByType   map[docmodel.DocType]int
	RelationshipCount int
	DegradedCount     int
}

// DocumentStore persists document metadata, relationships, and run state.
type DocumentStore interface {
	// SaveDocuments inserts or updates documents by identity. New documents
	// get a store-assigned ID written back to the struct; existing
	// identities keep their ID. The whole batch is one transaction.
	SaveDocuments(ctx context.Context, docs []*docmodel.Document) error

	// GetDocument returns a document by ID, or nil if absent.
	GetDocument(ctx context.Context, id int64) (*docmodel.Document, error)

	// GetDocuments returns documents for the given IDs, skipping absent ones.
	GetDocuments(ctx context.Context, ids []int64) ([]*docmodel.Document, error)

	// GetDocumentByIdentity returns a document by identity, or nil.
	GetDocumentByIdentity(ctx context.Context, identity string) (*docmodel.Document, error)

	// ListIdentityHashes returns identity -> content hash for every stored
	// document. This is the change detector's view of the index.
	ListIdentityHashes(ctx context.Context) (map[string]string, error)

	// ListDocumentsByFile returns all documents sourced from a file path.
	ListDocumentsByFile(ctx context.Context, filePath string) ([]*docmodel.Document, error)

	// AllDocIDs returns the string doc keys of every stored document,
	// for consistency checks against the BM25 and vector indexes.
	AllDocIDs(ctx context.Context) ([]string, error)

	// DeleteDocuments removes documents by ID.
	DeleteDocuments(ctx context.Context, ids []int64) error

	// SaveRelationships replaces the stored relationships for a source table.
	SaveRelationships(ctx context.Context, sourceTable string, rels []docmodel.Relationship) error

	// GetRelationships returns relationships where the table is source or
	// target, ordered by hop count then confidence.
	GetRelationships(ctx context.Context, table string) ([]docmodel.Relationship, error)

	// DeleteRelationshipsBySource removes a table's outgoing relationships.
	DeleteRelationshipsBySource(ctx context.Context, sourceTable string) error

	// State operations (key-value store for run state).
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error

	// Checkpoint operations for resumable indexing.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LoadCheckpoint(ctx context.Context) (*Checkpoint, error)
	ClearCheckpoint(ctx context.Context) error

	// Stats returns document and relationship counts.
	Stats(ctx context.Context) (*StoreStats, error)

	Close() error
}

// Document is a BM25 indexing unit: the doc key plus its searchable text.
type Document struct {
	ID      string // docmodel.DocID form.
	Content string
}

// BM25Result is a single BM25 search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about a BM25 index.
type IndexStats struct {
	DocumentCount int
}

// BM25Index provides keyword search with BM25 scoring.
type BM25Index interface {
	// Index adds or updates documents.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, best first.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents by doc key.
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns every indexed doc key, for consistency checks.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	// Save flushes the index to durable storage.
	Save() error

	Close() error
}

// BM25Config configures a BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords are filtered out during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns the default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      keyword.DefaultSchemaStopWords,
		MinTokenLength: 2,
	}
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string  // docmodel.DocID form.
	Distance float32 // Lower is more similar (0-2 for cosine).
	Score    float32 // Normalized similarity in [0, 1].
}

// VectorStoreConfig configures the vector index.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// Metric is the distance metric: "cos" or "l2" (default: "cos").
	Metric string

	// M is the HNSW max connections per layer (default: 16).
	M int

	// EfSearch is the HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible vector index defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides approximate nearest-neighbor search.
type VectorStore interface {
	// Add inserts vectors keyed by doc key. Existing keys are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors of the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by doc key.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns every stored doc key, for consistency checks.
	AllIDs() []string

	// Contains reports whether a doc key has a vector.
	Contains(id string) bool

	// Count returns the number of stored vectors.
	Count() int

	// Save persists the index to path.
	Save(path string) error

	// Load restores the index from path.
	Load(path string) error

	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the index with --force)", e.Expected, e.Got)
}
