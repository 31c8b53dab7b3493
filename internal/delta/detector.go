// Package delta classifies manifest candidates against the stored index
// before any parse or embed work is scheduled. Skipping UNCHANGED files is
// what makes re-indexing cheap, so this runs first and everything downstream
// trusts its verdict.
package delta

import (
	"context"
	"log/slog"
	"strings"

	"github.com/schemadex/schemadex/internal/manifest"
)

// Class is the change classification of one candidate file.
type Class string

const (
	// ClassNew marks an identity not present in the index.
	ClassNew Class = "NEW"

	// ClassChanged marks a present identity whose content hash differs.
	ClassChanged Class = "CHANGED"

	// ClassUnchanged marks a present identity with an identical hash.
	// Excluded from all further processing.
	ClassUnchanged Class = "UNCHANGED"

	// ClassDeleted marks an indexed identity with no candidate file in the
	// current manifest.
	ClassDeleted Class = "DELETED"
)

// ChangeSet is the classified view of one manifest generation.
type ChangeSet struct {
	New       []manifest.FileEntry
	Changed   []manifest.FileEntry
	Unchanged []manifest.FileEntry

	// DeletedIdentities are stored document identities scheduled for
	// removal. Includes column identities under a vanished table file.
	DeletedIdentities []string
}

// ToProcess returns the entries that need parse/extract/embed work.
func (c *ChangeSet) ToProcess() []manifest.FileEntry {
	out := make([]manifest.FileEntry, 0, len(c.New)+len(c.Changed))
	out = append(out, c.New...)
	out = append(out, c.Changed...)
	return out
}

// IndexView is the detector's read-only view of the stored index.
type IndexView interface {
	ListIdentityHashes(ctx context.Context) (map[string]string, error)
}

// Detector classifies manifest entries against a stored index.
type Detector struct {
	view IndexView
}

// New creates a detector over the given index view.
func New(view IndexView) *Detector {
	return &Detector{view: view}
}

// Classify compares candidate entries to the stored identity -> content
// hash map. Root documents carry the whole file content, so a root
// document's stored hash equals the manifest's file hash and the
// comparison needs no parsing.
//
// Deletions are derived only when applyDeletions is true (a "complete"
// manifest generation): a partial manifest lists a subset of files and
// says nothing about the rest of the index.
func (d *Detector) Classify(ctx context.Context, entries []manifest.FileEntry, applyDeletions bool) (*ChangeSet, error) {
	stored, err := d.view.ListIdentityHashes(ctx)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{}
	candidates := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		identity := entry.Identity()
		candidates[identity] = struct{}{}

		storedHash, exists := stored[identity]
		switch {
		case !exists:
			cs.New = append(cs.New, entry)
		case storedHash != entry.ContentHash:
			cs.Changed = append(cs.Changed, entry)
		default:
			cs.Unchanged = append(cs.Unchanged, entry)
		}
	}

	if applyDeletions {
		for identity := range stored {
			if belongsToCandidate(identity, candidates) {
				continue
			}
			cs.DeletedIdentities = append(cs.DeletedIdentities, identity)
		}
	}

	slog.Info("change_detection_completed",
		slog.Int("new", len(cs.New)),
		slog.Int("changed", len(cs.Changed)),
		slog.Int("unchanged", len(cs.Unchanged)),
		slog.Int("deleted", len(cs.DeletedIdentities)))

	return cs, nil
}

// belongsToCandidate reports whether a stored identity is covered by a
// candidate file: either it is a root identity, or a derived child of one
// (column identities extend their table's identity with ".column").
func belongsToCandidate(identity string, candidates map[string]struct{}) bool {
	if _, ok := candidates[identity]; ok {
		return true
	}
	for candidate := range candidates {
		if strings.HasPrefix(identity, candidate+".") {
			return true
		}
	}
	return false
}
