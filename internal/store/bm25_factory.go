package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend selects the BM25 index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default). WAL mode allows
	// searching while a build run writes.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2. BoltDB's exclusive lock makes it
	// single-process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25Index creates a BM25Index of the given backend. basePath is the
// path without extension; the backend appends .db or .bleve. An empty
// basePath creates an in-memory index for testing.
func NewBM25Index(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend an existing index on disk uses,
// or "" if no index exists. Used to open old indexes with the backend they
// were built with, regardless of the configured default.
func DetectBM25Backend(basePath string) BM25Backend {
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve
	}
	return ""
}

// BM25IndexPath returns the on-disk path of the BM25 index for a backend.
func BM25IndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "bm25")
	if backend == string(BM25BackendBleve) {
		return basePath + ".bleve"
	}
	return basePath + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
