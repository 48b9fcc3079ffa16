package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
)

func TestSourcePathResolvesLongestTarget(t *testing.T) {
	targets := []info.Target{
		{Name: "pg_data", Path: "/pgdata"},
		{Name: "pg_tblspc/16401", Path: "/tsloc"},
	}

	src, rel, err := sourcePath(targets, "pg_data/base/1/1234")
	if err != nil {
		t.Fatalf("sourcePath: %v", err)
	}
	if src != "/pgdata/base/1/1234" || rel != "base/1/1234" {
		t.Errorf("got src=%q rel=%q", src, rel)
	}

	src, rel, err = sourcePath(targets, "pg_tblspc/16401/1/5678")
	if err != nil {
		t.Fatalf("sourcePath: %v", err)
	}
	if src != "/tsloc/1/5678" || rel != "1/5678" {
		t.Errorf("got src=%q rel=%q", src, rel)
	}

	if _, _, err := sourcePath(targets, "not_covered/x"); err == nil {
		t.Error("expected error for uncovered manifest name")
	}
}

func TestDispatchCopiesFilesThroughPipeline(t *testing.T) {
	pgData := t.TempDir()
	if err := os.MkdirAll(filepath.Join(pgData, "base", "1"), 0o750); err != nil {
		t.Fatal(err)
	}
	content := []byte("some file content for the dispatch test")
	if err := os.WriteFile(filepath.Join(pgData, "base", "1", "1234"), content, 0o640); err != nil {
		t.Fatal(err)
	}

	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	targets := []info.Target{{Name: "pg_data", Path: pgData}}

	job := process.Job{Key: "pg_data/base/1/1234", Size: int64(len(content))}
	opt := DispatchOptions{Targets: targets, Repo: repo, Stanza: "main", Label: "20260101-000000F", Workers: 1, CompressType: compress.Gzip}

	results, err := Dispatch(context.Background(), opt, [][]process.Job{{job}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	r, ok := results["pg_data/base/1/1234"]
	if !ok {
		t.Fatal("expected a result for the dispatched file")
	}
	if r.Kind != ResultCopy {
		t.Errorf("expected ResultCopy, got %v", r.Kind)
	}
	if r.CopySize != int64(len(content)) {
		t.Errorf("expected copy size %d, got %d", len(content), r.CopySize)
	}
	if r.RepoSize <= 0 {
		t.Error("expected a positive repo size for the compressed output")
	}

	destPath := repo.BackupFilePath("main", "20260101-000000F", "pg_data/base/1/1234.gz")
	if _, err := os.Stat(destPath); err != nil {
		t.Fatalf("expected compressed file at %s: %v", destPath, err)
	}
}

func TestDispatchSkipsIdenticalPriorFile(t *testing.T) {
	pgData := t.TempDir()
	content := []byte("unchanged content")
	filePath := filepath.Join(pgData, "PG_VERSION")
	if err := os.WriteFile(filePath, content, 0o640); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(filePath)
	if err != nil {
		t.Fatal(err)
	}

	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	targets := []info.Target{{Name: "pg_data", Path: pgData}}

	prior := info.FileEntry{Name: "pg_data/PG_VERSION", Size: fi.Size(), Timestamp: fi.ModTime(), Checksum: "deadbeef", SizeRepo: 10}
	job := process.Job{Key: "pg_data/PG_VERSION", Size: fi.Size()}
	opt := DispatchOptions{
		Targets: targets, Repo: repo, Stanza: "main", Label: "20260101-000000F_20260102-000000D", Workers: 1,
		CompressType: compress.None, PriorLabel: "20260101-000000F", PriorFiles: map[string]info.FileEntry{"pg_data/PG_VERSION": prior},
	}

	results, err := Dispatch(context.Background(), opt, [][]process.Job{{job}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	r := results["pg_data/PG_VERSION"]
	if r.Kind != ResultSkip {
		t.Fatalf("expected ResultSkip for unchanged file, got %v", r.Kind)
	}
	if r.Checksum != "deadbeef" {
		t.Errorf("expected dedup to carry over the prior checksum, got %q", r.Checksum)
	}
}

func TestDispatchBundlesSmallFiles(t *testing.T) {
	pgData := t.TempDir()
	names := []string{"PG_VERSION", "backup_label", "global/pg_control"}
	if err := os.MkdirAll(filepath.Join(pgData, "global"), 0o750); err != nil {
		t.Fatal(err)
	}
	jobs := make([]process.Job, 0, len(names))
	for _, n := range names {
		content := []byte("content of " + n)
		if err := os.WriteFile(filepath.Join(pgData, n), content, 0o640); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, process.Job{Key: "pg_data/" + n, Size: int64(len(content))})
	}

	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	targets := []info.Target{{Name: "pg_data", Path: pgData}}

	opt := DispatchOptions{
		Targets: targets, Repo: repo, Stanza: "main", Label: "20260101-000000F", Workers: 2,
		CompressType: compress.None, Bundle: true, BundleSizeLimit: 1 << 20,
	}

	results, err := Dispatch(context.Background(), opt, [][]process.Job{jobs})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != len(names) {
		t.Fatalf("expected %d results, got %d", len(names), len(results))
	}

	seenOffsets := map[int64]bool{}
	for _, n := range names {
		r, ok := results["pg_data/"+n]
		if !ok {
			t.Fatalf("missing result for %s", n)
		}
		if r.Kind != ResultCopy {
			t.Errorf("%s: expected ResultCopy, got %v", n, r.Kind)
		}
		if r.BundleID == 0 {
			t.Errorf("%s: expected a nonzero bundle id", n)
		}
		if seenOffsets[r.BundleOffset] {
			t.Errorf("%s: bundle offset %d collides with another file's", n, r.BundleOffset)
		}
		seenOffsets[r.BundleOffset] = true
	}

	bundlePath := repo.BackupFilePath("main", "20260101-000000F", "bundle/1")
	fi, err := os.Stat(bundlePath)
	if err != nil {
		t.Fatalf("expected bundle object at %s: %v", bundlePath, err)
	}
	if fi.Size() == 0 {
		t.Error("expected a non-empty bundle object")
	}
}

func TestDispatchBundleSizeLimitExcludesLargeFiles(t *testing.T) {
	pgData := t.TempDir()
	small := []byte("small")
	large := make([]byte, 64)
	if err := os.WriteFile(filepath.Join(pgData, "small"), small, 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pgData, "large"), large, 0o640); err != nil {
		t.Fatal(err)
	}

	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	targets := []info.Target{{Name: "pg_data", Path: pgData}}
	jobs := []process.Job{
		{Key: "pg_data/small", Size: int64(len(small))},
		{Key: "pg_data/large", Size: int64(len(large))},
	}
	opt := DispatchOptions{
		Targets: targets, Repo: repo, Stanza: "main", Label: "20260101-000000F", Workers: 1,
		CompressType: compress.None, Bundle: true, BundleSizeLimit: int64(len(small)),
	}

	results, err := Dispatch(context.Background(), opt, [][]process.Job{jobs})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if results["pg_data/small"].BundleID == 0 {
		t.Error("expected the small file to land in a bundle")
	}
	if results["pg_data/large"].BundleID != 0 {
		t.Error("expected the oversized file to bypass bundling")
	}
	destPath := repo.BackupFilePath("main", "20260101-000000F", "pg_data/large")
	if _, err := os.Stat(destPath); err != nil {
		t.Fatalf("expected the oversized file as its own repo object: %v", err)
	}
}
