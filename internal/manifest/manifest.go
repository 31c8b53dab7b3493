// Package manifest reads and validates batch handoff manifests. A manifest
// is produced by the external documentation stage and describes exactly
// which files an indexing run may consume, with content hashes for
// verification.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/errors"
)

// CurrentSchemaVersion is the manifest schema version this binary accepts.
const CurrentSchemaVersion = 1

// Status is the terminal state of the producing run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
)

// FileType declares how a listed file is parsed.
type FileType string

const (
	FileTypeTable    FileType = "table"
	FileTypeDomain   FileType = "domain"
	FileTypeOverview FileType = "overview"
)

// FileEntry describes one indexable file.
type FileEntry struct {
	Path        string    `json:"path"` // Relative to the documentation root.
	Type        FileType  `json:"type"`
	Database    string    `json:"database"`
	Schema      string    `json:"schema,omitempty"`
	Table       string    `json:"table,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	ContentHash string    `json:"contentHash"`
	SizeBytes   int64     `json:"sizeBytes"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// WorkUnit is an independently indexable slice of the manifest, typically
// one business domain's tables. Units are disjoint in file (and therefore
// identity) space.
type WorkUnit struct {
	Name  string   `json:"name"`
	Files []string `json:"files"` // Paths into IndexableFiles.
}

// Manifest is an immutable description of one batch handoff.
type Manifest struct {
	SchemaVersion  int         `json:"schemaVersion"`
	CompletedAt    time.Time   `json:"completedAt"`
	PlanHash       string      `json:"planHash"`
	Status         Status      `json:"status"`
	WorkUnits      []WorkUnit  `json:"workUnits"`
	IndexableFiles []FileEntry `json:"indexableFiles"`
}

// Load reads and structurally validates a manifest file. Structural
// problems (unreadable file, bad JSON, unknown schema version, non-terminal
// status, entries without required fields) are fatal.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeManifestNotFound, fmt.Sprintf("manifest not found at %s", path), err)
		}
		return nil, errors.New(errors.ErrCodeManifestInvalid, fmt.Sprintf("cannot read manifest %s", path), err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "manifest is not valid JSON", err)
	}
	if err := m.validateStructure(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validateStructure enforces the structural invariants that make the rest
// of the manifest trustworthy.
func (m *Manifest) validateStructure() error {
	if m.SchemaVersion == 0 {
		return errors.New(errors.ErrCodeManifestInvalid, "manifest has no schemaVersion", nil)
	}
	if m.SchemaVersion != CurrentSchemaVersion {
		return errors.New(errors.ErrCodeManifestInvalid,
			fmt.Sprintf("unsupported manifest schemaVersion %d (expected %d)", m.SchemaVersion, CurrentSchemaVersion), nil)
	}
	if m.Status != StatusComplete && m.Status != StatusPartial {
		return errors.New(errors.ErrCodeManifestInvalid,
			fmt.Sprintf("manifest status %q is not terminal", m.Status), nil)
	}
	if m.PlanHash == "" {
		return errors.New(errors.ErrCodeManifestInvalid, "manifest has no planHash", nil)
	}

	seen := make(map[string]struct{}, len(m.IndexableFiles))
	for i, f := range m.IndexableFiles {
		if f.Path == "" || f.ContentHash == "" {
			return errors.New(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("indexableFiles[%d] missing path or contentHash", i), nil)
		}
		switch f.Type {
		case FileTypeTable, FileTypeDomain, FileTypeOverview:
		default:
			return errors.New(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("indexableFiles[%d] has unknown type %q", i, f.Type), nil)
		}
		if f.Type == FileTypeTable && f.Table == "" {
			return errors.New(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("table entry %s has no table name", f.Path), nil)
		}
		if _, dup := seen[f.Path]; dup {
			return errors.New(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("duplicate manifest entry for %s", f.Path), nil)
		}
		seen[f.Path] = struct{}{}
	}

	for _, wu := range m.WorkUnits {
		if wu.Name == "" {
			return errors.New(errors.ErrCodeManifestInvalid, "work unit with empty name", nil)
		}
		for _, p := range wu.Files {
			if _, ok := seen[p]; !ok {
				return errors.New(errors.ErrCodeManifestInvalid,
					fmt.Sprintf("work unit %s references unlisted file %s", wu.Name, p), nil)
			}
		}
	}

	return nil
}

// Entry returns the file entry for a path, if listed.
func (m *Manifest) Entry(path string) (FileEntry, bool) {
	for _, f := range m.IndexableFiles {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Units returns the manifest's work units. Files not referenced by any unit
// are collected into an implicit "default" unit so every listed file belongs
// to exactly one unit.
func (m *Manifest) Units() []WorkUnit {
	assigned := make(map[string]struct{})
	for _, wu := range m.WorkUnits {
		for _, p := range wu.Files {
			assigned[p] = struct{}{}
		}
	}

	units := make([]WorkUnit, len(m.WorkUnits))
	copy(units, m.WorkUnits)

	var rest []string
	for _, f := range m.IndexableFiles {
		if _, ok := assigned[f.Path]; !ok {
			rest = append(rest, f.Path)
		}
	}
	if len(rest) > 0 {
		units = append(units, WorkUnit{Name: "default", Files: rest})
	}
	return units
}

// Identity derives the stable document identity for a file entry.
func (f FileEntry) Identity() string {
	switch f.Type {
	case FileTypeTable:
		return docmodel.TableIdentity(f.Database, f.Schema, f.Table)
	case FileTypeDomain:
		return docmodel.DomainIdentity(f.Database, f.Domain)
	default:
		return docmodel.TableIdentity(f.Database, "overview", f.Path)
	}
}
