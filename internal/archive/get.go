package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/filter/cipher"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/lock"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// Get implements archive-get (spec §4.4.2): locate segment in any
// configured repository's archive (optionally via timeline history) and
// materialize it at destPath. A confirmed-absent WAL segment is a valid,
// non-error answer reported through ok=false.
func Get(ctx context.Context, cfg Config, segment, destPath string) (ok bool, err error) {
	if cfg.Async {
		return getAsync(ctx, cfg, segment, destPath)
	}
	return getSync(ctx, cfg, segment, destPath)
}

func getSync(ctx context.Context, cfg Config, segment, destPath string) (bool, error) {
	for _, r := range cfg.Repos {
		found, path, ext, err := findSegment(ctx, r, cfg.Stanza, cfg.ArchiveID, segment)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}
		if err := fetchOne(ctx, r, cfg, path, ext, destPath); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func getAsync(ctx context.Context, cfg Config, segment, destPath string) (bool, error) {
	sp := Spool{Root: cfg.SpoolRoot, Stanza: cfg.Stanza, Dir: In}
	if err := sp.EnsureDir(); err != nil {
		return false, err
	}
	// Hit: the segment is already staged from a prior worker run.
	if _, err := os.Stat(sp.SegmentPath(segment)); err == nil {
		if err := moveOrCopy(sp.SegmentPath(segment), destPath); err != nil {
			return false, err
		}
		return true, nil
	}

	l := lock.New(cfg.LockPath, cfg.Stanza, lock.Archive)
	acquired, err := l.TryLock()
	if err != nil {
		return false, err
	}
	if acquired {
		if _, err := process.Detach(cfg.Argv0, []string{
			"archive-get-worker", "--stanza=" + cfg.Stanza, "--segment=" + segment,
		}, os.Environ()); err != nil {
			l.Unlock()
			return false, errkind.Wrap(errkind.RuntimeError, err, "spawn archive-get worker")
		}
		// The worker takes the archive lock itself once it starts.
		l.Unlock()
	}

	if err := pollStatus(ctx, sp, segment, cfg.ArchiveTimeout, true); err != nil {
		if errkind.As(err).Kind == errkind.FileMissingError {
			return false, nil
		}
		return false, err
	}
	if err := moveOrCopy(sp.SegmentPath(segment), destPath); err != nil {
		return false, err
	}
	return true, nil
}

// findSegment scans the archive-id directory for segment with any
// extension (spec §3 naming, 16-prefix + 24-name + sha1 + optional ext).
func findSegment(ctx context.Context, r *storage.Repo, stanza, archiveID, segment string) (found bool, fullPath, ext string, err error) {
	prefix := segment[:16]
	dir := r.ArchiveIDDir(stanza, archiveID) + "/" + prefix
	entries, err := r.Driver.List(ctx, dir)
	if err != nil {
		return false, "", "", nil // directory absent is "not found", not an error
	}
	for _, e := range entries {
		if len(e.Name) >= len(segment) && e.Name[:len(segment)] == segment {
			return true, dir + "/" + e.Name, filepath.Ext(e.Name), nil
		}
	}
	return false, "", "", nil
}

func fetchOne(ctx context.Context, r *storage.Repo, cfg Config, srcPath, ext, destPath string) error {
	rc, err := r.Driver.Open(ctx, srcPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "open %s", srcPath)
	}
	defer rc.Close()

	var src io.Reader = rc
	if cfg.CipherPass != "" {
		plain, err := cipher.Decrypt(cfg.CipherPass, rc)
		if err != nil {
			return errkind.Wrap(errkind.CryptoError, err, "decrypt %s", srcPath)
		}
		src = bytes.NewReader(plain)
	}
	ctype := compress.TypeFromExt(ext)
	if ctype != compress.None {
		r2, err := compress.NewReader(ctype, src)
		if err != nil {
			return err
		}
		src = r2
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create %s", destPath)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return errkind.Wrap(errkind.FileWriteError, err, "write %s", destPath)
	}
	return out.Close()
}

func moveOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device: fall back to copy+remove (spec §4.4.2, "move (or copy
	// cross-device)").
	in, err := os.Open(src)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errkind.Wrap(errkind.FileWriteError, err, "copy %s to %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
