package builder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName is the run lock inside the index directory.
const lockFileName = "index.lock"

// AcquireRunLock takes an exclusive advisory lock on the index directory.
// A second concurrent run fails immediately rather than corrupting the
// checkpoint. The returned release function is safe to call once.
func AcquireRunLock(indexDir string) (func(), error) {
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	lock := flock.New(filepath.Join(indexDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another indexing run holds the lock at %s", lock.Path())
	}

	return func() { _ = lock.Unlock() }, nil
}
