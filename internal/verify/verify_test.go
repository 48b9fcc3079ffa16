package verify

import (
	"context"
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
)

func buildCleanRepo(t *testing.T) (*storage.Repo, info.PgVersion) {
	t.Helper()
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	v := info.PgVersion{ID: 1, Version: "16", SystemID: 1, ControlVersion: 1300, CatalogVersion: 1, WalSegmentSize: 16 << 20}

	ai, err := info.NewArchive("", v)
	if err != nil {
		t.Fatal(err)
	}
	if err := ai.SaveTo(repo.Driver, repo.ArchiveInfoPath("main", false)); err != nil {
		t.Fatal(err)
	}

	walContent := []byte("wal segment payload")
	writeRepoFile(t, repoDir, "archive/main/"+v.ArchiveID()+"/0000000100000000/000000010000000000000001-"+sha1Of(walContent), walContent)

	bi, err := info.NewInfo("", v)
	if err != nil {
		t.Fatal(err)
	}
	label := "20260101-000000F"
	bi.Add(info.Backup{
		Label: label, Type: info.BackupFull, ArchiveIDStr: v.ArchiveID(),
		Timestamp: time.Now(), WalStart: "000000010000000000000001", WalStop: "000000010000000000000001",
	})
	if err := bi.SaveTo(repo.Driver, repo.BackupInfoPath("main", false)); err != nil {
		t.Fatal(err)
	}

	fileContent := []byte("manifest file contents")
	writeRepoFile(t, repoDir, "backup/main/"+label+"/pg_data/PG_VERSION", fileContent)
	m := &info.Manifest{
		Label: label, Type: info.BackupFull, OptionCompress: string(compress.None),
		Targets: []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: "/pgdata"}},
		Files:   []info.FileEntry{{Name: "pg_data/PG_VERSION", Size: int64(len(fileContent)), Checksum: sha1Of(fileContent)}},
	}
	if err := m.SaveTo(repo.Driver, repo.ManifestPath("main", label, false)); err != nil {
		t.Fatal(err)
	}

	return repo, v
}

func TestRunCleanRepositoryReportsNoErrors(t *testing.T) {
	repo, _ := buildCleanRepo(t)

	report, err := Run(context.Background(), RunOptions{Stanza: "main", Repo: repo, Workers: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Errors != 0 {
		t.Fatalf("expected a clean repository to report 0 errors, got %d: archives=%+v backups=%+v",
			report.Errors, report.Archives, report.Backups)
	}
	if len(report.Backups) != 1 || !report.Backups[0].WalComplete {
		t.Fatalf("expected the backup's required WAL range to reconcile cleanly, got %+v", report.Backups)
	}
}

func TestRunDetectsCorruptBackupFile(t *testing.T) {
	repo, _ := buildCleanRepo(t)

	// Corrupt the manifest file's on-disk content after the clean repo was
	// built so its checksum no longer matches.
	writeRepoFile(t, repo.Base, "backup/main/20260101-000000F/pg_data/PG_VERSION", []byte("tampered contents!!"))

	report, err := Run(context.Background(), RunOptions{Stanza: "main", Repo: repo, Workers: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Errors == 0 {
		t.Fatal("expected a corrupted backup file to be reported as an error")
	}
	if len(report.Backups) != 1 || len(report.Backups[0].InvalidFiles) != 1 {
		t.Fatalf("expected exactly one invalid file recorded, got %+v", report.Backups)
	}
}

func TestRunRejectsMismatchedHistories(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	v1 := info.PgVersion{ID: 1, Version: "16", SystemID: 1, WalSegmentSize: 16 << 20}
	v2 := info.PgVersion{ID: 1, Version: "15", SystemID: 1, WalSegmentSize: 16 << 20}

	ai, err := info.NewArchive("", v1)
	if err != nil {
		t.Fatal(err)
	}
	if err := ai.SaveTo(repo.Driver, repo.ArchiveInfoPath("main", false)); err != nil {
		t.Fatal(err)
	}
	bi, err := info.NewInfo("", v2)
	if err != nil {
		t.Fatal(err)
	}
	if err := bi.SaveTo(repo.Driver, repo.BackupInfoPath("main", false)); err != nil {
		t.Fatal(err)
	}

	if _, err := Run(context.Background(), RunOptions{Stanza: "main", Repo: repo, Workers: 1}); err == nil {
		t.Fatal("expected Run to reject mismatched archive.info/backup.info histories")
	}
}
