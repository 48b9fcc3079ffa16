// Package storage defines the Driver capability set every repository
// backend (posix, sftp, s3, gcs, azblob) implements, and the Repo wrapper
// that resolves path expressions against one configured driver (spec §9,
// "Polymorphic IO... is best modeled as a trait/interface with a small
// fixed capability set").
package storage

import (
	"context"
	"io"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

// FileInfo is the driver-independent listing/stat record every backend
// normalizes its native metadata into.
type FileInfo struct {
	Name    string // basename, not full path
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Driver is the small fixed capability set every storage backend provides:
// open/read, write/create, stat, list, remove, and a directory-creation
// hook for backends that model directories explicitly (posix, sftp).
// Object stores (s3, gcs, azblob) implement MakeDir as a no-op since they
// have no directory concept.
type Driver interface {
	// Open returns a reader for path. Returns an *errkind.Error with
	// FileMissingError if path does not exist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create returns a writer for path, truncating or creating it. Parent
	// directories are created as needed on backends that require it.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Stat returns FileInfo for path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the direct children of path (one level, not recursive).
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Remove deletes path. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error

	// MakeDir ensures path exists as an (possibly virtual) directory.
	MakeDir(ctx context.Context, path string) error

	// Exists reports whether path exists, suppressing FileMissingError.
	Exists(ctx context.Context, path string) (bool, error)
}

// Exists is the common Exists() implementation built on Stat(), reusable by
// drivers whose Stat already maps a missing object to a clear error check.
func Exists(ctx context.Context, d Driver, path string, isNotFound func(error) bool) (bool, error) {
	_, err := d.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// RemoveTree recursively removes dir and everything under it. A missing
// dir is not an error, matching Driver.Remove's own semantics.
func RemoveTree(ctx context.Context, d Driver, dir string) error {
	entries, err := d.List(ctx, dir)
	if err != nil {
		e := errkind.As(err)
		if e.Kind == errkind.PathMissingError || e.Kind == errkind.FileMissingError {
			return nil
		}
		return err
	}
	for _, e := range entries {
		child := dir + "/" + e.Name
		if e.IsDir {
			if err := RemoveTree(ctx, d, child); err != nil {
				return err
			}
			continue
		}
		if err := d.Remove(ctx, child); err != nil {
			return err
		}
	}
	return d.Remove(ctx, dir)
}
