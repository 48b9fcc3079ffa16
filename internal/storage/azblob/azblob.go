// Package azblob implements storage.Driver over an Azure Blob Storage
// container, for repo1-type=azure (spec §6), grounded on
// github.com/Azure/azure-sdk-for-go/sdk/storage/azblob.
package azblob

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

type Driver struct {
	container *container.Client
}

func New(accountURL, containerName string, cred azcore.TokenCredential) (*Driver, error) {
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "azblob: create client")
	}
	return &Driver{container: client.ServiceClient().NewContainerClient(containerName)}, nil
}

// NewFromSharedKey builds a Driver from an account name/key pair
// (repo1-azure-account / repo1-azure-key), the credential shape the config
// command flags offer, as an alternative to the workload-identity
// azcore.TokenCredential New expects.
func NewFromSharedKey(accountURL, containerName, accountName, accountKey string) (*Driver, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "azblob: shared key credential")
	}
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "azblob: create client")
	}
	return &Driver{container: client.ServiceClient().NewContainerClient(containerName)}, nil
}

func (d *Driver) key(path string) string { return strings.TrimPrefix(path, "/") }

func (d *Driver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	blob := d.container.NewBlobClient(d.key(path))
	resp, err := blob.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, errkind.Wrap(errkind.FileMissingError, err, "blob %s does not exist", path)
		}
		return nil, errkind.Wrap(errkind.FileOpenError, err, "could not open blob %s", path)
	}
	return resp.Body, nil
}

func (d *Driver) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return &uploadWriter{ctx: ctx, d: d, key: d.key(path)}, nil
}

func (d *Driver) Stat(ctx context.Context, path string) (storage.FileInfo, error) {
	blob := d.container.NewBlobClient(d.key(path))
	resp, err := blob.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return storage.FileInfo{}, errkind.Wrap(errkind.FileMissingError, err, "blob %s does not exist", path)
		}
		return storage.FileInfo{}, errkind.Wrap(errkind.FileOpenError, err, "could not stat blob %s", path)
	}
	fi := storage.FileInfo{Name: lastSegment(path)}
	if resp.ContentLength != nil {
		fi.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		fi.ModTime = *resp.LastModified
	}
	return fi, nil
}

func (d *Driver) List(ctx context.Context, path string) ([]storage.FileInfo, error) {
	prefix := d.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []storage.FileInfo
	pager := d.container.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errkind.Wrap(errkind.PathOpenError, err, "could not list %s", path)
		}
		for _, p := range page.Segment.BlobPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*p.Name, prefix), "/")
			out = append(out, storage.FileInfo{Name: name, IsDir: true})
		}
		for _, b := range page.Segment.BlobItems {
			name := strings.TrimPrefix(*b.Name, prefix)
			if name == "" {
				continue
			}
			fi := storage.FileInfo{Name: name}
			if b.Properties != nil {
				if b.Properties.ContentLength != nil {
					fi.Size = *b.Properties.ContentLength
				}
				if b.Properties.LastModified != nil {
					fi.ModTime = *b.Properties.LastModified
				}
			}
			out = append(out, fi)
		}
	}
	return out, nil
}

func (d *Driver) Remove(ctx context.Context, path string) error {
	blob := d.container.NewBlobClient(d.key(path))
	_, err := blob.Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return errkind.Wrap(errkind.FileWriteError, err, "could not delete blob %s", path)
	}
	return nil
}

// MakeDir is a no-op: blob storage has no directory concept.
func (d *Driver) MakeDir(ctx context.Context, path string) error { return nil }

func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	return storage.Exists(ctx, d, path, func(err error) bool {
		return errkind.As(err).Kind == errkind.FileMissingError
	})
}

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	return parts[len(parts)-1]
}

// uploadWriter buffers writes and performs a single block-blob upload on
// Close, mirroring the s3 driver's approach since the filter pipeline
// writes through a plain io.Writer without knowing the final size.
type uploadWriter struct {
	ctx context.Context
	d   *Driver
	key string
	buf bytes.Buffer
}

func (w *uploadWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *uploadWriter) Close() error {
	blob := w.d.container.NewBlockBlobClient(w.key)
	_, err := blob.UploadBuffer(w.ctx, w.buf.Bytes(), nil)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "could not upload blob %s", w.key)
	}
	return nil
}

var _ storage.Driver = (*Driver)(nil)
