package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/filter/cipher"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/filter/hash"
	"github.com/pgrepo/pgrepo/internal/lock"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// Config is the set of parameters archive-push/archive-get need, resolved
// from internal/config precedence before either operation runs.
type Config struct {
	Stanza         string
	ArchiveID      string
	WalSegmentSize uint32
	PgVersionNum   int
	SpoolRoot      string
	LockPath       string
	Repos          []*storage.Repo
	Async          bool
	QueueMaxBytes  int64
	ArchiveTimeout time.Duration
	CompressType   compress.Type
	CompressLevel  int
	CipherPass     string // empty disables encryption
	Argv0          string // for re-exec into the async worker
}

// Push implements archive-push (spec §4.4.1): segmentPath is the WAL file
// handed to us by the database's archive_command.
func Push(ctx context.Context, cfg Config, segmentPath string) error {
	segment := filepath.Base(segmentPath)

	if !cfg.Async {
		for _, r := range cfg.Repos {
			if err := pushOne(ctx, cfg, r, segmentPath, segment); err != nil {
				return err
			}
		}
		return nil
	}
	return pushAsync(ctx, cfg, segmentPath, segment)
}

// pushAsync implements the three-step async protocol of spec §4.4.1.
func pushAsync(ctx context.Context, cfg Config, segmentPath, segment string) error {
	sp := Spool{Root: cfg.SpoolRoot, Stanza: cfg.Stanza, Dir: Out}
	if err := sp.EnsureDir(); err != nil {
		return err
	}
	// Stage the payload into the spool so the worker (which may run as a
	// detached, unrelated process) can read it even after our caller's WAL
	// file is recycled by the database.
	if err := stageCopy(segmentPath, sp.SegmentPath(segment)); err != nil {
		return err
	}

	l := lock.New(cfg.LockPath, cfg.Stanza, lock.Archive)
	acquired, err := l.TryLock()
	if err != nil {
		return err
	}
	if acquired {
		if _, err := process.Detach(cfg.Argv0, []string{
			"archive-worker", "--stanza=" + cfg.Stanza, "--segment=" + segment,
		}, os.Environ()); err != nil {
			l.Unlock()
			return errkind.Wrap(errkind.RuntimeError, err, "spawn archive-push worker")
		}
		// The worker takes the archive lock itself once it starts, so release
		// ours now and fall through to poll like any caller.
		l.Unlock()
	}

	return pollStatus(ctx, sp, segment, cfg.ArchiveTimeout, true)
}

// pollStatus waits for segment's status file to appear, tolerating a
// stale .error on the very first poll (spec §4.4.1 step 2).
func pollStatus(ctx context.Context, sp Spool, segment string, timeout time.Duration, toleratesStaleError bool) error {
	deadline := time.Now().Add(timeout)
	first := true
	for {
		st, notFound, err := sp.ReadStatus(segment)
		if err == nil {
			if st.OK {
				if notFound {
					return errkind.New(errkind.FileMissingError, "segment %s not found", segment)
				}
				return nil
			}
			if first && toleratesStaleError {
				first = false
				sp.ClearStatus(segment)
			} else {
				return errkind.New(st.Code, "%s", st.Message)
			}
		}
		first = false
		if time.Now().After(deadline) {
			return errkind.New(errkind.ArchiveTimeoutError, "timed out waiting for %s after %s", segment, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func stageCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create spool file %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errkind.Wrap(errkind.FileWriteError, err, "stage %s", dst)
	}
	return out.Close()
}

// pushOne pushes segmentPath to one repository through the
// hash->compress->cipher pipeline, landing it at its canonical
// sha1-suffixed name (spec §4.4.1).
func pushOne(ctx context.Context, cfg Config, r *storage.Repo, segmentPath, segment string) error {
	in, err := os.Open(segmentPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "open %s", segmentPath)
	}
	defer in.Close()

	ext := cfg.CompressType.Ext()
	// The repository path embeds the sha1 of the segment's plaintext
	// content (spec §6 naming), computed as bytes are read and before they
	// reach compress/cipher; the transformed bytes are buffered in memory
	// so the destination can be named once the digest is known.
	tmpBuf := &memSink{}
	var sink io.Writer = tmpBuf
	var cw *cipher.EncryptWriter
	if cfg.CipherPass != "" {
		var err error
		cw, err = cipher.NewEncryptWriter(cfg.CipherPass, sink)
		if err != nil {
			return err
		}
		sink = cw
	}
	cwz, err := compress.NewWriter(cfg.CompressType, cfg.CompressLevel, sink)
	if err != nil {
		return err
	}
	plainHash := hash.New(hash.SHA1, cwz)

	if _, err := io.Copy(plainHash, in); err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "read %s", segmentPath)
	}
	// Close in pipeline order so compression flushes before the cipher
	// finalizes its padding; both must complete before tmpBuf holds the
	// full ciphertext to name and upload.
	if err := plainHash.Close(); err != nil {
		return err
	}
	if cw != nil {
		if err := cw.Close(); err != nil {
			return errkind.Wrap(errkind.CryptoError, err, "finalize cipher for %s", segment)
		}
	}

	dest := r.WalSegmentPath(cfg.Stanza, cfg.ArchiveID, segment, plainHash.Sum(), ext)
	w, err := r.Driver.Create(ctx, dest)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create %s", dest)
	}
	if _, err := w.Write(tmpBuf.Bytes()); err != nil {
		w.Close()
		return errkind.Wrap(errkind.FileWriteError, err, "write %s", dest)
	}
	return w.Close()
}

// memSink is an in-memory io.Writer used to buffer one compressed+
// encrypted segment before its content-addressed name is known.
type memSink struct{ buf []byte }

func (m *memSink) Write(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	return len(p), nil
}
func (m *memSink) Bytes() []byte { return m.buf }
