// Package docmodel defines the canonical representation of an indexable
// documentation unit and its identity. This is the data model shared by the
// parser, the change detector, the store, and the search engine.
package docmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DocType classifies an indexable document.
type DocType string

const (
	DocTypeTable        DocType = "table"
	DocTypeColumn       DocType = "column"
	DocTypeDomain       DocType = "domain"
	DocTypeRelationship DocType = "relationship"
	DocTypeOverview     DocType = "overview"
)

// Valid reports whether the doc type is one of the known values.
func (t DocType) Valid() bool {
	switch t {
	case DocTypeTable, DocTypeColumn, DocTypeDomain, DocTypeRelationship, DocTypeOverview:
		return true
	}
	return false
}

// Document is the atomic indexable unit. The integer ID is assigned by the
// store on first insert and is stable across re-indexing of the same logical
// entity; Identity is the location-independent key used for that stability.
type Document struct {
	ID       int64   // Assigned by the store; 0 until first insert.
	Type     DocType
	Identity string // e.g. "shop.public.orders" or "shop.public.orders.total_amount"
	FilePath string // Source file; column docs share their table's file path.

	Content  string   // Full text, the keyword-index and embedding source.
	Summary  string   // Compressed text returned to callers.
	Keywords []string // Ordered, deduplicated extracted terms.

	ContentHash string // SHA-256 of Content, the unit of change detection.
	ParentDocID *int64 // Column -> owning table document. Nil for roots.

	// Degraded marks a document indexed without an embedding (keyword-only).
	Degraded bool

	Database string // Source database name, for search filtering.
	Domain   string // Business domain, for search filtering.

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Relationship is a precomputed join path between two tables.
type Relationship struct {
	ID          int64
	SourceTable string
	TargetTable string
	JoinPath    string // JSON-encoded hop list.
	HopCount    int
	SQLSnippet  string
	Confidence  float64
}

// HashContent returns the hex-encoded SHA-256 of content. All content hashes
// in manifests, documents, and the store use this form.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// TableIdentity builds the stable identity for a table.
func TableIdentity(database, schema, table string) string {
	return join(database, schema, table)
}

// ColumnIdentity builds the stable identity for a column of a table.
func ColumnIdentity(database, schema, table, column string) string {
	return join(database, schema, table, column)
}

// DomainIdentity builds the stable identity for a business domain document.
func DomainIdentity(database, domain string) string {
	return join(database, "domain", domain)
}

func join(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned = append(cleaned, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(cleaned, ".")
}

// DocID returns the string form of a store-assigned document ID, used as the
// key in the BM25 and vector indexes.
func DocID(id int64) string {
	return fmt.Sprintf("doc-%d", id)
}

// ParseDocID reverses DocID. Returns an error for malformed keys.
func ParseDocID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "doc-%d", &id); err != nil {
		return 0, fmt.Errorf("malformed doc key %q: %w", s, err)
	}
	return id, nil
}
