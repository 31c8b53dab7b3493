package builder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ProgressSchemaVersion is the progress file schema this binary writes and
// accepts.
const ProgressSchemaVersion = 1

// Progress is the externally visible state of one indexing run. It is
// written atomically on every checkpoint and at run end, and read by the
// status surface.
type Progress struct {
	SchemaVersion       int        `json:"schemaVersion"`
	StartedAt           time.Time  `json:"startedAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	Status              RunStatus  `json:"status"`
	FilesTotal          int        `json:"filesTotal"`
	FilesIndexed        int        `json:"filesIndexed"`
	FilesFailed         int        `json:"filesFailed"`
	FilesSkipped        int        `json:"filesSkipped"`
	CurrentFile         string     `json:"currentFile,omitempty"`
	EmbeddingsGenerated int        `json:"embeddingsGenerated"`
	LastCheckpoint      *time.Time `json:"lastCheckpoint,omitempty"`
	Errors              []string   `json:"errors,omitempty"`
}

// WriteProgress persists a progress snapshot atomically (tmp + rename), so
// a reader never observes a torn file.
func WriteProgress(path string, p *Progress) error {
	p.SchemaVersion = ProgressSchemaVersion

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create progress directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename progress: %w", err)
	}
	return nil
}

// LoadProgress reads a progress file. A missing file returns (nil, nil); a
// schema version this binary does not understand is an error.
func LoadProgress(path string) (*Progress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read progress: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	if p.SchemaVersion != ProgressSchemaVersion {
		return nil, fmt.Errorf("unsupported progress schemaVersion %d (expected %d)", p.SchemaVersion, ProgressSchemaVersion)
	}
	return &p, nil
}
