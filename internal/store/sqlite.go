package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/errors"
)

const stateKeyCheckpointDonePaths = "checkpoint_done_paths"

// SQLiteStore implements DocumentStore on SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ DocumentStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path. An empty
// path opens an in-memory database for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.New(errors.ErrCodeStoreOpen, fmt.Sprintf("cannot create store directory: %v", err), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreOpen, fmt.Sprintf("cannot open metadata store: %v", err), err)
	}

	// Single writer prevents lock contention under the WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeStoreOpen, fmt.Sprintf("cannot set pragma: %v", err), err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeStoreOpen, fmt.Sprintf("cannot initialize schema: %v", err), err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_type      TEXT NOT NULL,
		identity      TEXT NOT NULL UNIQUE,
		file_path     TEXT NOT NULL,
		content       TEXT NOT NULL,
		summary       TEXT NOT NULL DEFAULT '',
		keywords      TEXT NOT NULL DEFAULT '[]',
		content_hash  TEXT NOT NULL,
		parent_doc_id INTEGER REFERENCES documents(id) ON DELETE SET NULL,
		degraded      INTEGER NOT NULL DEFAULT 0,
		database_name TEXT NOT NULL DEFAULT '',
		domain        TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_file_path ON documents(file_path);
	CREATE INDEX IF NOT EXISTS idx_documents_doc_type  ON documents(doc_type);
	CREATE INDEX IF NOT EXISTS idx_documents_parent    ON documents(parent_doc_id);

	CREATE TABLE IF NOT EXISTS relationships (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		source_table TEXT NOT NULL,
		target_table TEXT NOT NULL,
		join_path    TEXT NOT NULL,
		hop_count    INTEGER NOT NULL,
		sql_snippet  TEXT NOT NULL,
		confidence   REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_table);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_table);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion)
	return err
}

// SaveDocuments upserts documents by identity in one transaction. Store IDs
// are written back into the passed structs.
func (s *SQLiteStore) SaveDocuments(ctx context.Context, docs []*docmodel.Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (doc_type, identity, file_path, content, summary, keywords,
			content_hash, parent_doc_id, degraded, database_name, domain, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			doc_type = excluded.doc_type,
			file_path = excluded.file_path,
			content = excluded.content,
			summary = excluded.summary,
			keywords = excluded.keywords,
			content_hash = excluded.content_hash,
			parent_doc_id = excluded.parent_doc_id,
			degraded = excluded.degraded,
			database_name = excluded.database_name,
			domain = excluded.domain,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := time.Now().UTC()
	for _, doc := range docs {
		keywordsJSON, err := json.Marshal(doc.Keywords)
		if err != nil {
			return fmt.Errorf("marshal keywords for %s: %w", doc.Identity, err)
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now

		if _, err := upsert.ExecContext(ctx,
			string(doc.Type), doc.Identity, doc.FilePath, doc.Content, doc.Summary,
			string(keywordsJSON), doc.ContentHash, doc.ParentDocID, boolToInt(doc.Degraded),
			doc.Database, doc.Domain, doc.CreatedAt, doc.UpdatedAt,
		); err != nil {
			return fmt.Errorf("save document %s: %w", doc.Identity, err)
		}

		// Read the ID back; the upsert path does not report it.
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM documents WHERE identity = ?`, doc.Identity).Scan(&doc.ID); err != nil {
			return fmt.Errorf("resolve id for %s: %w", doc.Identity, err)
		}
	}

	return tx.Commit()
}

const documentColumns = `id, doc_type, identity, file_path, content, summary, keywords,
	content_hash, parent_doc_id, degraded, database_name, domain, created_at, updated_at`

func scanDocument(scanner interface{ Scan(...any) error }) (*docmodel.Document, error) {
	var doc docmodel.Document
	var docType, keywordsJSON string
	var parent sql.NullInt64
	var degraded int

	err := scanner.Scan(&doc.ID, &docType, &doc.Identity, &doc.FilePath, &doc.Content,
		&doc.Summary, &keywordsJSON, &doc.ContentHash, &parent, &degraded,
		&doc.Database, &doc.Domain, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	doc.Type = docmodel.DocType(docType)
	doc.Degraded = degraded != 0
	if parent.Valid {
		doc.ParentDocID = &parent.Int64
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &doc.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords for %s: %w", doc.Identity, err)
	}
	return &doc, nil
}

// GetDocument returns a document by ID, or nil if absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// GetDocuments returns documents for the given IDs, preserving input order
// and skipping absent IDs.
func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []int64) ([]*docmodel.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*docmodel.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	docs := make([]*docmodel.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// GetDocumentByIdentity returns a document by identity, or nil.
func (s *SQLiteStore) GetDocumentByIdentity(ctx context.Context, identity string) (*docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE identity = ?`, identity)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ListIdentityHashes returns identity -> content hash for all documents.
func (s *SQLiteStore) ListIdentityHashes(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT identity, content_hash FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var identity, hash string
		if err := rows.Scan(&identity, &hash); err != nil {
			return nil, err
		}
		hashes[identity] = hash
	}
	return hashes, rows.Err()
}

// ListDocumentsByFile returns all documents sourced from a file path.
func (s *SQLiteStore) ListDocumentsByFile(ctx context.Context, filePath string) ([]*docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE file_path = ? ORDER BY id`, filePath)
	if err != nil {
		return nil, fmt.Errorf("query documents by file: %w", err)
	}
	defer rows.Close()

	var docs []*docmodel.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AllDocIDs returns the doc keys of every stored document, sorted by ID.
func (s *SQLiteStore) AllDocIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, docmodel.DocID(id))
	}
	return ids, rows.Err()
}

// DeleteDocuments removes documents by ID.
func (s *SQLiteStore) DeleteDocuments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// SaveRelationships replaces a source table's relationships atomically.
func (s *SQLiteStore) SaveRelationships(ctx context.Context, sourceTable string, rels []docmodel.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relationships WHERE source_table = ?`, sourceTable); err != nil {
		return fmt.Errorf("clear relationships: %w", err)
	}

	for _, rel := range rels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (source_table, target_table, join_path, hop_count, sql_snippet, confidence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rel.SourceTable, rel.TargetTable, rel.JoinPath, rel.HopCount, rel.SQLSnippet, rel.Confidence,
		); err != nil {
			return fmt.Errorf("save relationship %s -> %s: %w", rel.SourceTable, rel.TargetTable, err)
		}
	}

	return tx.Commit()
}

// GetRelationships returns relationships touching a table, closest first.
func (s *SQLiteStore) GetRelationships(ctx context.Context, table string) ([]docmodel.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_table, target_table, join_path, hop_count, sql_snippet, confidence
		FROM relationships
		WHERE source_table = ? OR target_table = ?
		ORDER BY hop_count, confidence DESC, id`, table, table)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var rels []docmodel.Relationship
	for rows.Next() {
		var rel docmodel.Relationship
		if err := rows.Scan(&rel.ID, &rel.SourceTable, &rel.TargetTable,
			&rel.JoinPath, &rel.HopCount, &rel.SQLSnippet, &rel.Confidence); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// DeleteRelationshipsBySource removes a table's outgoing relationships.
func (s *SQLiteStore) DeleteRelationshipsBySource(ctx context.Context, sourceTable string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE source_table = ?`, sourceTable)
	return err
}

// GetState returns a state value, or "" if the key is absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState stores a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// DeleteState removes a state key.
func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
	return err
}

// SaveCheckpoint persists build progress for resume.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	donePaths, err := json.Marshal(cp.DonePaths)
	if err != nil {
		return fmt.Errorf("marshal checkpoint paths: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entries := map[string]string{
		StateKeyCheckpointUnit:      cp.WorkUnit,
		StateKeyCheckpointDone:      fmt.Sprintf("%d", cp.FilesDone),
		StateKeyCheckpointTotal:     fmt.Sprintf("%d", cp.FilesTotal),
		StateKeyCheckpointTimestamp: time.Now().UTC().Format(time.RFC3339),
		StateKeyCheckpointModel:     cp.EmbedderModel,
		stateKeyCheckpointDonePaths: string(donePaths),
	}
	for key, value := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("save checkpoint key %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// LoadCheckpoint returns the saved checkpoint, or nil if none exists.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	values := make(map[string]string)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM state WHERE key LIKE 'checkpoint_%'`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	cp := &Checkpoint{
		WorkUnit:      values[StateKeyCheckpointUnit],
		EmbedderModel: values[StateKeyCheckpointModel],
	}
	fmt.Sscanf(values[StateKeyCheckpointDone], "%d", &cp.FilesDone)
	fmt.Sscanf(values[StateKeyCheckpointTotal], "%d", &cp.FilesTotal)
	if ts, err := time.Parse(time.RFC3339, values[StateKeyCheckpointTimestamp]); err == nil {
		cp.Timestamp = ts
	}
	if raw := values[stateKeyCheckpointDonePaths]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cp.DonePaths); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint paths: %w", err)
		}
	}

	return cp, nil
}

// ClearCheckpoint removes all checkpoint state.
func (s *SQLiteStore) ClearCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key LIKE 'checkpoint_%'`)
	return err
}

// Stats returns document and relationship counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &StoreStats{DocumentsByType: make(map[docmodel.DocType]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_type, COUNT(*) FROM documents GROUP BY doc_type`)
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docType string
		var count int
		if err := rows.Scan(&docType, &count); err != nil {
			return nil, err
		}
		stats.DocumentsByType[docmodel.DocType(docType)] = count
		stats.DocumentCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE degraded = 1`).Scan(&stats.DegradedCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships`).Scan(&stats.RelationshipCount); err != nil {
		return nil, err
	}

	return stats, nil
}

// Close closes the store. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
