// Package gcs implements storage.Driver over a Google Cloud Storage
// bucket, for repo1-type=gcs (spec §6), grounded on cloud.google.com/go/storage.
package gcs

import (
	"context"
	"errors"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

type Driver struct {
	client *gstorage.Client
	bucket *gstorage.BucketHandle
}

func New(ctx context.Context, bucket string) (*Driver, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "gcs: create client")
	}
	return &Driver{client: client, bucket: client.Bucket(bucket)}, nil
}

func (d *Driver) key(path string) string { return strings.TrimPrefix(path, "/") }

func (d *Driver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := d.bucket.Object(d.key(path)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, errkind.Wrap(errkind.FileMissingError, err, "object %s does not exist", path)
		}
		return nil, errkind.Wrap(errkind.FileOpenError, err, "could not open object %s", path)
	}
	return r, nil
}

func (d *Driver) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	w := d.bucket.Object(d.key(path)).NewWriter(ctx)
	return w, nil
}

func (d *Driver) Stat(ctx context.Context, path string) (storage.FileInfo, error) {
	attrs, err := d.bucket.Object(d.key(path)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return storage.FileInfo{}, errkind.Wrap(errkind.FileMissingError, err, "object %s does not exist", path)
		}
		return storage.FileInfo{}, errkind.Wrap(errkind.FileOpenError, err, "could not stat object %s", path)
	}
	return storage.FileInfo{
		Name:    lastSegment(path),
		Size:    attrs.Size,
		ModTime: attrs.Updated,
	}, nil
}

func (d *Driver) List(ctx context.Context, path string) ([]storage.FileInfo, error) {
	prefix := d.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	it := d.bucket.Objects(ctx, &gstorage.Query{Prefix: prefix, Delimiter: "/"})
	var out []storage.FileInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.PathOpenError, err, "could not list %s", path)
		}
		if attrs.Prefix != "" {
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
			out = append(out, storage.FileInfo{Name: name, IsDir: true})
			continue
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" {
			continue
		}
		out = append(out, storage.FileInfo{Name: name, Size: attrs.Size, ModTime: attrs.Updated})
	}
	return out, nil
}

func (d *Driver) Remove(ctx context.Context, path string) error {
	err := d.bucket.Object(d.key(path)).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return errkind.Wrap(errkind.FileWriteError, err, "could not delete object %s", path)
	}
	return nil
}

// MakeDir is a no-op: GCS has no directory concept, only object prefixes.
func (d *Driver) MakeDir(ctx context.Context, path string) error { return nil }

func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	return storage.Exists(ctx, d, path, func(err error) bool {
		return errkind.As(err).Kind == errkind.FileMissingError
	})
}

func (d *Driver) Close() error { return d.client.Close() }

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	return parts[len(parts)-1]
}

var _ storage.Driver = (*Driver)(nil)
