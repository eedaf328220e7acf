// Package acquire finds hive files in evidence sources and materializes
// them into a local work directory where the converter can read them.
package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Hive is one materialized hive file.
type Hive struct {
	// ID is 1-based and stable for the order in which hives were found.
	ID int64
	// Name is the base name as found in the source.
	Name string
	// Origin is the location in the source (file path or bucket key).
	Origin string
	// Path is the local copy under the work directory.
	Path string
}

// Source materializes every matching hive into workDir.
type Source interface {
	Acquire(ctx context.Context, workDir string) ([]Hive, error)
}

// copyWorkers bounds concurrent copies.
const copyWorkers = 4

// NewWorkDir creates a fresh run directory under base, or under os.TempDir
// when base is empty. The returned cleanup removes it.
func NewWorkDir(base string) (string, func() error, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", nil, fmt.Errorf("acquire: work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "amcache-run-")
	if err != nil {
		return "", nil, fmt.Errorf("acquire: work dir: %w", err)
	}
	return dir, func() error { return os.RemoveAll(dir) }, nil
}

// stagePath is where hive number id is copied. Each hive gets its own
// directory so identical base names from different hosts do not collide.
func stagePath(workDir string, id int64, name string) string {
	return filepath.Join(workDir, "amcache", fmt.Sprintf("%03d", id), name)
}
