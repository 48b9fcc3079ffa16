package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
)

func TestCheckPreconditionsRejectsMissingPgPath(t *testing.T) {
	if err := CheckPreconditions(filepath.Join(t.TempDir(), "nonexistent"), false, false); err == nil {
		t.Fatal("expected an error for a missing pg-path")
	}
}

func TestCheckPreconditionsRejectsRunningClusterWithoutDeltaOrForce(t *testing.T) {
	pgData := t.TempDir()
	if err := os.WriteFile(filepath.Join(pgData, "postmaster.pid"), []byte("123\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := CheckPreconditions(pgData, false, false); err == nil {
		t.Fatal("expected an error when postmaster.pid is present without --delta/--force")
	}
	if err := CheckPreconditions(pgData, true, false); err == nil {
		t.Fatal("expected --delta to still require a pg_control or backup.manifest to diff against")
	}
}

func TestCheckPreconditionsAllowsForceWithExistingManifest(t *testing.T) {
	pgData := t.TempDir()
	if err := os.WriteFile(filepath.Join(pgData, "postmaster.pid"), []byte("123\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pgData, "backup.manifest"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := CheckPreconditions(pgData, false, true); err != nil {
		t.Fatalf("expected --force with an existing backup.manifest to pass: %v", err)
	}
}

func TestRunRestoresFullBackupEndToEnd(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	pgData := t.TempDir()

	label := "20260101-000000F"
	bi, err := info.NewInfo("", info.PgVersion{ID: 1, Version: "16", SystemID: 1, ControlVersion: 1, CatalogVersion: 1, WalSegmentSize: 16 << 20})
	if err != nil {
		t.Fatal(err)
	}
	bi.Add(info.Backup{Label: label, Type: info.BackupFull, ArchiveIDStr: "16-1", Timestamp: time.Now()})
	if err := bi.SaveTo(repo.Driver, repo.BackupInfoPath("main", false)); err != nil {
		t.Fatal(err)
	}

	content := []byte("restore engine end-to-end content")
	writeBackupFile(t, repo, "main", label, "pg_data/PG_VERSION", content, compress.None)

	m := &info.Manifest{
		Label:          label,
		Type:           info.BackupFull,
		OptionCompress: string(compress.None),
		Targets:        []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: "/original/source/pgdata"}},
		Files:          []info.FileEntry{{Name: "pg_data/PG_VERSION", Size: int64(len(content)), Checksum: sha1Of(content), Mode: 0o640}},
	}
	if err := m.SaveTo(repo.Driver, repo.ManifestPath("main", label, false)); err != nil {
		t.Fatal(err)
	}

	opt := RunOptions{
		Stanza: "main", Repo: repo, PGData: pgData, Workers: 1, PgVersion: 160000,
		Recovery: RecoveryOptions{Type: TypeDefault, ArchiveGetCmd: "pgrepo archive-get %f %p"},
	}
	if _, err := Run(context.Background(), opt); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(pgData, "PG_VERSION"))
	if err != nil {
		t.Fatalf("read restored PG_VERSION: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("restored content mismatch: got %q, want %q", got, content)
	}
	if _, err := os.Stat(filepath.Join(pgData, "recovery.signal")); err != nil {
		t.Error("expected recovery.signal to be written for a pg16 restore")
	}
	if _, err := os.Stat(filepath.Join(pgData, "backup.manifest")); err != nil {
		t.Error("expected the manifest to be saved to pg_data/backup.manifest on finalize")
	}
}
