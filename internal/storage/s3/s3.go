// Package s3 implements storage.Driver over an S3-compatible bucket, for
// repo1-type=s3 (spec §6), grounded on aws-sdk-go-v2's s3 client and the
// feature/s3/manager uploader for large WAL/backup payloads.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// Config describes one S3-compatible endpoint.
type Config struct {
	Bucket      string
	Region      string
	Endpoint    string // non-empty for S3-compatible (minio, etc.)
	AccessKey   string
	SecretKey   string
	UsePathStyle bool
}

type Driver struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

func New(ctx context.Context, cfg Config) (*Driver, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "s3: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Driver{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (d *Driver) key(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (d *Driver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errkind.Wrap(errkind.FileMissingError, err, "object %s does not exist", path)
		}
		return nil, errkind.Wrap(errkind.FileOpenError, err, "could not get object %s", path)
	}
	return out.Body, nil
}

func (d *Driver) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return newUploadWriter(ctx, d, path), nil
}

func (d *Driver) Stat(ctx context.Context, path string) (storage.FileInfo, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return storage.FileInfo{}, errkind.Wrap(errkind.FileMissingError, err, "object %s does not exist", path)
		}
		return storage.FileInfo{}, errkind.Wrap(errkind.FileOpenError, err, "could not head object %s", path)
	}
	fi := storage.FileInfo{Name: lastSegment(path)}
	if out.ContentLength != nil {
		fi.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		fi.ModTime = *out.LastModified
	}
	return fi, nil
}

func (d *Driver) List(ctx context.Context, path string) ([]storage.FileInfo, error) {
	prefix := d.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.PathOpenError, err, "could not list %s", path)
	}
	result := make([]storage.FileInfo, 0, len(out.Contents)+len(out.CommonPrefixes))
	for _, p := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(*p.Prefix, prefix), "/")
		result = append(result, storage.FileInfo{Name: name, IsDir: true})
	}
	for _, o := range out.Contents {
		name := strings.TrimPrefix(*o.Key, prefix)
		if name == "" {
			continue
		}
		fi := storage.FileInfo{Name: name}
		if o.Size != nil {
			fi.Size = *o.Size
		}
		if o.LastModified != nil {
			fi.ModTime = *o.LastModified
		}
		result = append(result, fi)
	}
	return result, nil
}

func (d *Driver) Remove(ctx context.Context, path string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "could not delete object %s", path)
	}
	return nil
}

// MakeDir is a no-op: S3 has no directory concept, only key prefixes.
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

// uploadWriter buffers writes in memory and performs a single multipart
// upload via manager.Uploader on Close, since s3.PutObject needs a seekable
// or fully-buffered body and filters stream data without knowing its final
// size up front.
type uploadWriter struct {
	ctx context.Context
	d   *Driver
	key string
	buf bytes.Buffer
}

func newUploadWriter(ctx context.Context, d *Driver, path string) *uploadWriter {
	return &uploadWriter{ctx: ctx, d: d, key: d.key(path)}
}

func (w *uploadWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *uploadWriter) Close() error {
	_, err := w.d.uploader.Upload(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.d.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "could not upload object %s", w.key)
	}
	return nil
}

var _ storage.Driver = (*Driver)(nil)
