// Package compress implements the repository's compression filters:
// gzip and zstd via github.com/klauspost/compress (faster, more actively
// maintained than the standard library's compress/gzip for this use case),
// lz4 via github.com/pierrec/lz4/v4, and bzip2 decompression only via the
// standard library (no actively maintained Go bzip2 encoder exists in the
// ecosystem; see DESIGN.md).
package compress

import (
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type is the compress-type option (spec §6 repo1-cipher-type analogue).
type Type string

const (
	None  Type = "none"
	Gzip  Type = "gz"
	LZ4   Type = "lz4"
	Zstd  Type = "zst"
	Bzip2 Type = "bz2" // decompress-only
)

// Ext returns the file extension the repository appends for t, or "" for None.
func (t Type) Ext() string {
	if t == None {
		return ""
	}
	return string(t)
}

// TypeFromExt recovers the compress Type from a filename extension as
// returned by path/filepath.Ext (leading dot, e.g. ".gz"), or None if
// ext names no recognized type — any repository file without a
// compression suffix is already stored as None.
func TypeFromExt(ext string) Type {
	if len(ext) == 0 || ext[0] != '.' {
		return None
	}
	switch Type(ext[1:]) {
	case Gzip, LZ4, Zstd, Bzip2:
		return Type(ext[1:])
	default:
		return None
	}
}

// NewWriter wraps next with a compressing writer for t, at level (ignored
// by lz4 and bzip2's decompress-only path).
func NewWriter(t Type, level int, next io.Writer) (io.WriteCloser, error) {
	switch t {
	case None:
		return nopCloser{next}, nil
	case Gzip:
		return gzip.NewWriterLevel(next, clampLevel(level, gzip.DefaultCompression, gzip.BestCompression))
	case Zstd:
		opts := []zstd.EOption{}
		if level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		return zstd.NewWriter(next, opts...)
	case LZ4:
		w := lz4.NewWriter(next)
		return w, nil
	case Bzip2:
		return nil, fmt.Errorf("compress: bzip2 encoding is not supported (decompress-only)")
	default:
		return nil, fmt.Errorf("compress: unknown type %q", t)
	}
}

// NewReader wraps r with a decompressing reader for t.
func NewReader(t Type, r io.Reader) (io.Reader, error) {
	switch t {
	case None:
		return r, nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return lz4.NewReader(r), nil
	case Bzip2:
		return bzip2.NewReader(r), nil
	default:
		return nil, fmt.Errorf("compress: unknown type %q", t)
	}
}

func clampLevel(level, def, max int) int {
	if level <= 0 {
		return def
	}
	if level > max {
		return max
	}
	return level
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
