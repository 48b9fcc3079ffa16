// Package runctx provides a per-operation scratch directory: restore's
// delta-clean phase moves stale target entries here and removes them
// together when its clean of that target finishes, rather than deleting
// them one by one while the clean pass is still in progress.
package runctx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// RunCtx manages a per-run temporary directory.
type RunCtx struct {
	Dir        string
	keepOnExit bool
	seq        atomic.Int64
}

// New creates a directory under the system temp root with prefix.
func New(prefix string, keep bool) (*RunCtx, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, err
	}
	return &RunCtx{Dir: dir, keepOnExit: keep}, nil
}

// NewIn creates a directory under parent instead of the system temp root,
// so entries under parent can be staged into it with a plain rename
// instead of a cross-filesystem copy (os.Rename fails with EXDEV across
// mount points, and restore's clean pass needs to stage removals on
// whatever filesystem the restore target itself lives on).
func NewIn(parent, prefix string, keep bool) (*RunCtx, error) {
	dir, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return nil, err
	}
	return &RunCtx{Dir: dir, keepOnExit: keep}, nil
}

// Cleanup removes the directory unless keepOnExit is set.
func (r *RunCtx) Cleanup() error {
	if r.keepOnExit {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

// Path joins the run directory with subpath elements.
func (r *RunCtx) Path(elem ...string) string {
	parts := append([]string{r.Dir}, elem...)
	return filepath.Join(parts...)
}

// MoveAside renames src into the run directory under a name derived from
// its own basename plus a monotonic sequence number, so entries with the
// same basename from different source directories never collide, and
// returns the new location.
func (r *RunCtx) MoveAside(src string) (string, error) {
	n := r.seq.Add(1)
	dest := r.Path(fmt.Sprintf("%d_%s", n, filepath.Base(src)))
	if err := os.Rename(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *RunCtx) String() string { return fmt.Sprintf("RunCtx(%s)", r.Dir) }
