package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/errors"
)

// FileErrorCode classifies a per-file validation failure.
type FileErrorCode string

const (
	FileMissing  FileErrorCode = "FILE_MISSING"
	HashMismatch FileErrorCode = "HASH_MISMATCH"
)

// FileError records why one listed file was excluded from the working set.
type FileError struct {
	Path string
	Code FileErrorCode
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Path)
}

// ValidationResult is the outcome of validating a manifest against disk.
type ValidationResult struct {
	// Valid is the subset of listed files safe to index.
	Valid []FileEntry
	// Errors holds one entry per excluded file.
	Errors []FileError
}

// Validator verifies that manifest entries match what is actually on disk.
type Validator struct {
	root string
}

// NewValidator creates a validator rooted at the documentation directory.
func NewValidator(root string) *Validator {
	return &Validator{root: root}
}

// Validate checks every listed file against disk. Missing files and hash
// mismatches degrade the working set and are reported per file; they never
// abort validation. Structural manifest errors are caught earlier by Load.
func (v *Validator) Validate(m *Manifest) (*ValidationResult, error) {
	if m == nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "nil manifest", nil)
	}

	result := &ValidationResult{}
	for _, entry := range m.IndexableFiles {
		if err := v.checkEntry(entry); err != nil {
			var fe FileError
			switch {
			case os.IsNotExist(err):
				fe = FileError{Path: entry.Path, Code: FileMissing, Err: err}
			default:
				fe = FileError{Path: entry.Path, Code: HashMismatch, Err: err}
			}
			slog.Warn("manifest_file_rejected",
				slog.String("path", entry.Path),
				slog.String("code", string(fe.Code)))
			result.Errors = append(result.Errors, fe)
			continue
		}
		result.Valid = append(result.Valid, entry)
	}

	slog.Info("manifest_validated",
		slog.Int("listed", len(m.IndexableFiles)),
		slog.Int("valid", len(result.Valid)),
		slog.Int("rejected", len(result.Errors)))

	return result, nil
}

// ValidateSubset validates only the entries named by paths, preserving
// manifest order. Used for per-work-unit validation.
func (v *Validator) ValidateSubset(m *Manifest, paths []string) (*ValidationResult, error) {
	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[p] = struct{}{}
	}

	sub := &Manifest{SchemaVersion: m.SchemaVersion, PlanHash: m.PlanHash, Status: m.Status}
	for _, f := range m.IndexableFiles {
		if _, ok := want[f.Path]; ok {
			sub.IndexableFiles = append(sub.IndexableFiles, f)
		}
	}
	return v.Validate(sub)
}

// checkEntry verifies existence and a byte-identical content hash.
func (v *Validator) checkEntry(entry FileEntry) error {
	full := filepath.Join(v.root, filepath.FromSlash(entry.Path))

	data, err := os.ReadFile(full)
	if err != nil {
		return err
	}

	got := docmodel.HashContent(string(data))
	if got != entry.ContentHash {
		return fmt.Errorf("hash mismatch for %s: manifest %s, disk %s", entry.Path, entry.ContentHash, got)
	}
	return nil
}
