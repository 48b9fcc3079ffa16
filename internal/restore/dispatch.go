package restore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/filter/cipher"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/filter/hash"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// DispatchOptions configures the restore file-copy phase (spec §4.6 File
// dispatch).
type DispatchOptions struct {
	Repo            *storage.Repo
	Stanza          string
	Label           string
	PGData          string
	Workers         int
	Manifest        *info.Manifest
	PriorManifests  map[string]*info.Manifest // ancestor label -> its manifest, for Reference lookups
	CipherPass      string
	ZeroFiles       map[string]bool
	ZeroFilenodeMap map[string]bool
	Progress        *process.Progress // optional; Add is a no-op on a nil Progress
}

// BuildJobs converts the manifest's files into process.Job values,
// largest-first, the order spec §4.6 wants dispatched ("descending size
// within each processing queue").
func BuildJobs(m *info.Manifest) []process.Job {
	jobs := make([]process.Job, 0, len(m.Files))
	for _, f := range m.SortedFiles() {
		jobs = append(jobs, process.Job{Key: f.Name, Size: f.Size})
	}
	return jobs
}

// Dispatch restores every job in buckets across opt.Workers goroutines.
func Dispatch(ctx context.Context, opt DispatchOptions, buckets [][]process.Job) error {
	byName := make(map[string]info.FileEntry, len(opt.Manifest.Files))
	for _, f := range opt.Manifest.Files {
		byName[f.Name] = f
	}

	next := process.QueueCallback(buckets)
	run := func(ctx context.Context, workerIdx int, job process.Job) error {
		f, ok := byName[job.Key]
		if !ok {
			return errkind.New(errkind.AssertError, "restore job %q not present in manifest", job.Key)
		}
		if err := restoreOneFile(ctx, opt, f); err != nil {
			return err
		}
		opt.Progress.Add(job.Size)
		return nil
	}
	err := process.Dispatch(ctx, opt.Workers, next, run)
	opt.Progress.Wait()
	return err
}

func restoreOneFile(ctx context.Context, opt DispatchOptions, f info.FileEntry) error {
	destPath := resolveManifestPath(opt.PGData, opt.Manifest, f.Name)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "create parent of %s", destPath)
	}

	if opt.ZeroFiles[f.Name] {
		return writeZeros(destPath, f)
	}
	if f.Size == 0 {
		return writeZeros(destPath, f)
	}

	srcLabel := opt.Label
	srcManifest := opt.Manifest
	if f.Reference != "" {
		srcLabel = f.Reference
		pm, ok := opt.PriorManifests[srcLabel]
		if !ok {
			return errkind.New(errkind.BackupMismatchError,
				"restore: no loaded manifest for reference backup %s (file %s)", srcLabel, f.Name)
		}
		srcManifest = pm
	}

	var srcPath string
	if f.BundleID != 0 {
		srcPath = opt.Repo.BackupFilePath(opt.Stanza, srcLabel, fmt.Sprintf("bundle/%d", f.BundleID))
	} else {
		ext := compress.Type(srcManifest.OptionCompress).Ext()
		srcPath = opt.Repo.BackupFilePath(opt.Stanza, srcLabel, f.Name+extWithDot(ext))
	}

	r, err := opt.Repo.Driver.Open(ctx, srcPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "open %s", srcPath)
	}
	defer r.Close()

	// A bundled file is a byte range inside a shared object the backup
	// engine packed several small files into; skip to its start and cap
	// the read at its own recorded repo size so decompression stops at
	// this file's stream instead of reading into the next one (spec §4.5
	// Bundling). f.SizeRepo is exact even for --compress-type=none.
	var body io.Reader = r
	if f.BundleID != 0 {
		if f.BundleOffset > 0 {
			if _, err := io.CopyN(io.Discard, r, f.BundleOffset); err != nil {
				return errkind.Wrap(errkind.FileReadError, err, "seek to bundle offset for %s", f.Name)
			}
		}
		body = io.LimitReader(r, f.SizeRepo)
	}

	var plain io.Reader = body
	if opt.CipherPass != "" {
		data, err := cipher.Decrypt(opt.CipherPass, body)
		if err != nil {
			return errkind.Wrap(errkind.CryptoError, err, "decrypt %s", srcPath)
		}
		plain = bytes.NewReader(data)
	}
	decompressed, err := compress.NewReader(compress.Type(srcManifest.OptionCompress), plain)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "decompress %s", srcPath)
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(orDefaultFileMode(f.Mode)))
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create %s", destPath)
	}

	h := hash.New(hash.SHA1, out)
	if _, err := io.Copy(h, decompressed); err != nil {
		out.Close()
		return errkind.Wrap(errkind.FileReadError, err, "restore %s", destPath)
	}
	if err := h.Close(); err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "close %s", destPath)
	}
	if h.Sum() != f.Checksum {
		return errkind.New(errkind.ChecksumError,
			"restored file %s checksum mismatch: expected %s, got %s", f.Name, f.Checksum, h.Sum())
	}

	reconcileOwnerMode(destPath, f.User, f.Group, f.Mode)
	return nil
}

func extWithDot(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + ext
}

func writeZeros(destPath string, f info.FileEntry) error {
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(orDefaultFileMode(f.Mode)))
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create %s", destPath)
	}
	defer out.Close()
	if f.Size > 0 {
		if err := out.Truncate(f.Size); err != nil {
			return errkind.Wrap(errkind.FileWriteError, err, "zero-fill %s", destPath)
		}
	}
	reconcileOwnerMode(destPath, f.User, f.Group, f.Mode)
	return nil
}

func orDefaultFileMode(mode uint32) uint32 {
	if mode == 0 {
		return 0o640
	}
	return mode
}
