// Package posix implements storage.Driver over the local filesystem, the
// default repo-type (spec §6 repo1-type).
package posix

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

type Driver struct{}

func New() *Driver { return &Driver{} }

func (d *Driver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.FileMissingError, err, "file %s does not exist", path)
		}
		return nil, errkind.Wrap(errkind.FileOpenError, err, "could not open %s", path)
	}
	return f, nil
}

func (d *Driver) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errkind.Wrap(errkind.PathOpenError, err, "could not create parent dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileWriteError, err, "could not create %s", path)
	}
	return f, nil
}

func (d *Driver) Stat(ctx context.Context, path string) (storage.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.FileInfo{}, errkind.Wrap(errkind.FileMissingError, err, "file %s does not exist", path)
		}
		return storage.FileInfo{}, errkind.Wrap(errkind.FileOpenError, err, "could not stat %s", path)
	}
	return storage.FileInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}, nil
}

func (d *Driver) List(ctx context.Context, path string) ([]storage.FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.PathMissingError, err, "path %s does not exist", path)
		}
		return nil, errkind.Wrap(errkind.PathOpenError, err, "could not list %s", path)
	}
	out := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, storage.FileInfo{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return out, nil
}

func (d *Driver) Remove(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.FileWriteError, err, "could not remove %s", path)
	}
	return nil
}

func (d *Driver) MakeDir(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "could not create dir %s", path)
	}
	return nil
}

func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	return storage.Exists(ctx, d, path, func(err error) bool {
		return errkind.As(err).Kind == errkind.FileMissingError
	})
}

var _ storage.Driver = (*Driver)(nil)
