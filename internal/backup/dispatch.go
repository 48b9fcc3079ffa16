package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/filter/cipher"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/filter/hash"
	"github.com/pgrepo/pgrepo/internal/filter/pagechecksum"
	"github.com/pgrepo/pgrepo/internal/filter/size"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// CopyResultKind is the outcome one worker reports back for a BackupFile job
// (spec §4.5 File dispatch).
type CopyResultKind string

const (
	ResultCopy     CopyResultKind = "copy"
	ResultSkip     CopyResultKind = "skip"     // incrementally equal to a prior backup
	ResultNoop     CopyResultKind = "noop"     // zero-length file, nothing to copy
	ResultChecksum CopyResultKind = "checksum" // source changed mid-backup, still captured
)

// CopyResult is returned per file by a dispatch worker.
type CopyResult struct {
	Name             string
	Kind             CopyResultKind
	CopySize         int64
	RepoSize         int64
	Checksum         string
	PageChecksumFail []pagechecksum.Result
	BundleID         int   // nonzero when this file's bytes live inside a shared bundle object
	BundleOffset     int64 // byte offset of this file's stream within the bundle object
}

// DispatchOptions configures how file copy jobs are built and run.
type DispatchOptions struct {
	Targets         []info.Target // manifest targets, for resolving each job's source root
	Repo            *storage.Repo
	Stanza          string
	Label           string
	Workers         int
	CompressType    compress.Type
	CompressLevel   int
	CipherPass      string
	PriorLabel      string // full/differential ancestor consulted for dedup, if any
	PriorFiles      map[string]info.FileEntry
	CheckPages      bool
	Bundle          bool  // pack files at or under BundleSizeLimit into shared repo objects (--bundle)
	BundleSizeLimit int64 // per-bundle byte budget (--bundle-size)
	Progress        *process.Progress // optional; Add is a no-op on a nil Progress
}

// bundlePath is the repo-relative path of the shared object a group of
// small files is packed into (spec §4.5 Bundling).
func bundlePath(id int) string {
	return fmt.Sprintf("bundle/%d", id)
}

// sourcePath resolves a manifest file name like "pg_data/base/1/1234" or
// "pg_tblspc/16401/1/1234" to its absolute path on the source host, by
// matching the longest covering target (spec §4.3 target/name relationship).
func sourcePath(targets []info.Target, name string) (string, string, error) {
	var best info.Target
	bestLen := -1
	for _, t := range targets {
		if (name == t.Name || hasDirPrefix(name, t.Name)) && len(t.Name) > bestLen {
			best, bestLen = t, len(t.Name)
		}
	}
	if bestLen < 0 {
		return "", "", errkind.New(errkind.AssertError, "no target covers manifest entry %q", name)
	}
	rel := name[len(best.Name):]
	if len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return best.Path + "/" + rel, rel, nil
}

func hasDirPrefix(name, target string) bool {
	return len(name) > len(target) && name[:len(target)] == target && name[len(target)] == '/'
}

// BuildJobs converts the manifest's files into process.Job values for the
// best-fit/round-robin distributor (spec §5).
func BuildJobs(m *info.Manifest) []process.Job {
	jobs := make([]process.Job, 0, len(m.Files))
	for _, f := range m.Files {
		jobs = append(jobs, process.Job{Key: f.Name, Size: f.Size})
	}
	return jobs
}

// Dispatch runs every job in buckets across opt.Workers goroutines,
// copying each file through the hash/size/pageChecksum/compress/cipher
// pipeline (spec §4.5 File dispatch) and reports per-file results.
func Dispatch(ctx context.Context, opt DispatchOptions, buckets [][]process.Job) (map[string]CopyResult, error) {
	results := make(map[string]CopyResult, len(buckets))
	var mu sync.Mutex

	standalone := buckets
	if opt.Bundle {
		bundled, rest, err := dispatchBundles(ctx, opt, buckets)
		if err != nil {
			return nil, err
		}
		for name, r := range bundled {
			results[name] = r
		}
		standalone = process.Distribute(rest, opt.Workers)
	}

	next := process.QueueCallback(standalone)
	run := func(ctx context.Context, workerIdx int, job process.Job) error {
		r, err := copyOneFile(ctx, opt, job)
		if err != nil {
			return err
		}
		mu.Lock()
		results[r.Name] = r
		mu.Unlock()
		opt.Progress.Add(job.Size)
		return nil
	}
	err := process.Dispatch(ctx, opt.Workers, next, run)
	opt.Progress.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// dispatchBundles packs every job at or under opt.BundleSizeLimit into a
// sequence of shared repo objects, greedily filling each bundle before
// starting the next, and returns their results plus the jobs left over for
// the ordinary per-file worker pool (spec §4.5 Bundling). Each bundle is
// one repo object written by a single goroutine, so this phase runs before
// and separately from the parallel standalone dispatch rather than sharing
// its worker pool.
func dispatchBundles(ctx context.Context, opt DispatchOptions, buckets [][]process.Job) (map[string]CopyResult, []process.Job, error) {
	var all []process.Job
	for _, b := range buckets {
		all = append(all, b...)
	}

	var eligible, rest []process.Job
	for _, j := range all {
		if j.Size > 0 && j.Size <= opt.BundleSizeLimit {
			eligible = append(eligible, j)
		} else {
			rest = append(rest, j)
		}
	}

	var groups [][]process.Job
	var cur []process.Job
	var curSize int64
	for _, j := range eligible {
		if len(cur) > 0 && curSize+j.Size > opt.BundleSizeLimit {
			groups = append(groups, cur)
			cur, curSize = nil, 0
		}
		cur = append(cur, j)
		curSize += j.Size
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	results := make(map[string]CopyResult, len(eligible))
	for i, group := range groups {
		id := i + 1
		dest := opt.Repo.BackupFilePath(opt.Stanza, opt.Label, bundlePath(id))
		w, err := opt.Repo.Driver.Create(ctx, dest)
		if err != nil {
			return nil, nil, errkind.Wrap(errkind.FileWriteError, err, "create bundle %s", dest)
		}
		counter := size.New(w)
		for _, j := range group {
			before := counter.Size()
			r, err := copyFileInto(ctx, opt, j, counter)
			if err != nil {
				w.Close()
				return nil, nil, err
			}
			if r.Kind == ResultCopy || r.Kind == ResultChecksum {
				r.BundleID = id
				r.BundleOffset = before
				r.RepoSize = counter.Size() - before
			}
			results[r.Name] = r
			opt.Progress.Add(j.Size)
		}
		if err := w.Close(); err != nil {
			return nil, nil, errkind.Wrap(errkind.FileWriteError, err, "close bundle %s", dest)
		}
	}
	return results, rest, nil
}

func copyOneFile(ctx context.Context, opt DispatchOptions, job process.Job) (CopyResult, error) {
	r, skip, err := skipOrNoop(opt, job)
	if skip || err != nil {
		return r, err
	}

	destRel := job.Key
	if ext := opt.CompressType.Ext(); ext != "" {
		destRel += "." + ext
	}
	dest := opt.Repo.BackupFilePath(opt.Stanza, opt.Label, destRel)
	w, err := opt.Repo.Driver.Create(ctx, dest)
	if err != nil {
		return CopyResult{}, errkind.Wrap(errkind.FileWriteError, err, "create %s", dest)
	}

	repoSz := size.New(w)
	res, err := copyFileInto(ctx, opt, job, repoSz)
	if err != nil {
		w.Close()
		return CopyResult{}, err
	}
	if err := w.Close(); err != nil {
		return CopyResult{}, errkind.Wrap(errkind.FileWriteError, err, "close %s", dest)
	}
	res.RepoSize = repoSz.Size()
	return res, nil
}

// skipOrNoop reports the cheap outcomes copyFileInto never needs to run
// for: a file whose prior backup copy is still current (ResultSkip), or an
// empty file (ResultNoop). ok is true when the caller should return res
// as-is rather than proceed to the copy pipeline.
func skipOrNoop(opt DispatchOptions, job process.Job) (res CopyResult, ok bool, err error) {
	srcPath, _, err := sourcePath(opt.Targets, job.Key)
	if err != nil {
		return CopyResult{}, false, err
	}
	if prior, exists := opt.PriorFiles[job.Key]; exists && prior.Size == job.Size {
		if same, err := sameAsPrior(srcPath, prior); err == nil && same {
			return CopyResult{
				Name: job.Key, Kind: ResultSkip, CopySize: prior.Size, RepoSize: prior.SizeRepo, Checksum: prior.Checksum,
				BundleID: prior.BundleID, BundleOffset: prior.BundleOffset,
			}, true, nil
		}
	}
	if job.Size == 0 {
		return CopyResult{Name: job.Key, Kind: ResultNoop}, true, nil
	}
	return CopyResult{}, false, nil
}

// copyFileInto runs one file through the hash/pageChecksum/compress/cipher
// pipeline and appends its output to dest, which the caller owns (a fresh
// per-file repo object for a standalone file, or a shared bundle object's
// running byte counter). It never closes dest.
func copyFileInto(ctx context.Context, opt DispatchOptions, job process.Job, dest io.Writer) (CopyResult, error) {
	if r, skip, err := skipOrNoop(opt, job); skip || err != nil {
		return r, err
	}

	srcPath, relPath, err := sourcePath(opt.Targets, job.Key)
	if err != nil {
		return CopyResult{}, err
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return CopyResult{}, errkind.Wrap(errkind.FileReadError, err, "open %s", srcPath)
	}
	defer in.Close()

	var sink io.Writer = dest
	var cw *cipher.EncryptWriter
	if opt.CipherPass != "" {
		// Hide dest's Close from the cipher, whose Close would otherwise
		// close dest too.
		cw, err = cipher.NewEncryptWriter(opt.CipherPass, struct{ io.Writer }{sink})
		if err != nil {
			return CopyResult{}, err
		}
		sink = cw
	}
	cwz, err := compress.NewWriter(opt.CompressType, opt.CompressLevel, sink)
	if err != nil {
		return CopyResult{}, err
	}
	h := hash.New(hash.SHA1, cwz)
	sz := size.New(h)

	var pageFail []pagechecksum.Result
	var topWriter io.Writer = sz
	var pw *pagechecksum.Writer
	if opt.CheckPages && isRelationFile(relPath) {
		pw = pagechecksum.New(0, sz)
		topWriter = pw
	}

	if _, err := io.Copy(topWriter, in); err != nil {
		return CopyResult{}, errkind.Wrap(errkind.FileReadError, err, "read %s", srcPath)
	}
	if pw != nil {
		pw.Close()
		pageFail = pw.Failures
	}
	sz.Close()
	// Close in pipeline order: compress flushes into the cipher (or
	// directly into dest), then the cipher finalizes its padding into
	// dest, before dest itself is closed by the caller.
	if err := h.Close(); err != nil {
		return CopyResult{}, err
	}
	if cw != nil {
		if err := cw.Close(); err != nil {
			return CopyResult{}, errkind.Wrap(errkind.CryptoError, err, "finalize cipher for %s", relPath)
		}
	}

	kind := ResultCopy
	if fi, statErr := os.Stat(srcPath); statErr == nil && fi.Size() != job.Size {
		kind = ResultChecksum
	}

	return CopyResult{
		Name: job.Key, Kind: kind,
		CopySize: sz.Size(), Checksum: h.Sum(),
		PageChecksumFail: pageFail,
	}, nil
}

func sameAsPrior(srcPath string, prior info.FileEntry) (bool, error) {
	fi, err := os.Stat(srcPath)
	if err != nil {
		return false, err
	}
	return fi.Size() == prior.Size && fi.ModTime().Equal(prior.Timestamp), nil
}

func isRelationFile(relPath string) bool {
	return len(relPath) > 5 && (hasDir(relPath, "base/") || hasDir(relPath, "global/"))
}

func hasDir(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix
}
