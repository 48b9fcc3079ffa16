package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
)

func buildStanza(t *testing.T, repoDir, stanza string) *storage.Repo {
	t.Helper()
	repo := storage.NewRepo(posix.New(), repoDir)
	v := info.PgVersion{ID: 1, Version: "16", SystemID: 7, ControlVersion: 1300, CatalogVersion: 1, WalSegmentSize: 16 << 20}

	ai, err := info.NewArchive("", v)
	if err != nil {
		t.Fatal(err)
	}
	if err := ai.SaveTo(repo.Driver, repo.ArchiveInfoPath(stanza, false)); err != nil {
		t.Fatal(err)
	}

	bi, err := info.NewInfo("", v)
	if err != nil {
		t.Fatal(err)
	}
	bi.Add(info.Backup{
		Label: "20260101-000000F", Type: info.BackupFull, ArchiveIDStr: v.ArchiveID(),
		Timestamp: time.Unix(1700000100, 0), TimestampStrt: time.Unix(1700000000, 0),
		WalStart: "000000010000000000000001", WalStop: "000000010000000000000002",
		SizeDB: 1024 * 1024, SizeRepo: 512 * 1024,
	})
	if err := bi.SaveTo(repo.Driver, repo.BackupInfoPath(stanza, false)); err != nil {
		t.Fatal(err)
	}

	segDir := filepath.Join(repoDir, "archive", stanza, v.ArchiveID(), "0000000100000000")
	if err := os.MkdirAll(segDir, 0o750); err != nil {
		t.Fatal(err)
	}
	for _, seg := range []string{"000000010000000000000001", "000000010000000000000002"} {
		if err := os.WriteFile(filepath.Join(segDir, seg+"-deadbeef"), []byte("wal"), 0o640); err != nil {
			t.Fatal(err)
		}
	}

	return repo
}

func TestRunReportsStanzaWithBackupAndArchiveRange(t *testing.T) {
	repoDir := t.TempDir()
	repo := buildStanza(t, repoDir, "main")

	stanzas, err := Run(context.Background(), Options{Repo: repo})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stanzas) != 1 {
		t.Fatalf("expected 1 stanza, got %d", len(stanzas))
	}
	si := stanzas[0]
	if si.Name != "main" || si.Status != StatusOK {
		t.Fatalf("unexpected stanza summary: %+v", si)
	}
	if len(si.Archive) != 1 || si.Archive[0].Min != "000000010000000000000001" || si.Archive[0].Max != "000000010000000000000002" {
		t.Fatalf("unexpected archive range: %+v", si.Archive)
	}
	if len(si.Backup) != 1 || si.Backup[0].Label != "20260101-000000F" {
		t.Fatalf("unexpected backup list: %+v", si.Backup)
	}
}

func TestRunReportsMissingStanzaPath(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)

	stanzas, err := Run(context.Background(), Options{Stanza: "ghost", Repo: repo})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stanzas) != 1 || stanzas[0].Status != StatusMissingStanzaPath {
		t.Fatalf("expected a missing-stanza-path report, got %+v", stanzas)
	}
}

func TestRunReportsNoBackupWhenBackupInfoHasNoEntries(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	v := info.PgVersion{ID: 1, Version: "16", SystemID: 7, WalSegmentSize: 16 << 20}

	bi, err := info.NewInfo("", v)
	if err != nil {
		t.Fatal(err)
	}
	if err := bi.SaveTo(repo.Driver, repo.BackupInfoPath("empty", false)); err != nil {
		t.Fatal(err)
	}

	stanzas, err := Run(context.Background(), Options{Repo: repo})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stanzas) != 1 || stanzas[0].Status != StatusNoBackup {
		t.Fatalf("expected a no-backup report, got %+v", stanzas)
	}
}

func TestRunReportsMultipleStanzasSortedByName(t *testing.T) {
	repoDir := t.TempDir()
	buildStanza(t, repoDir, "zzz")
	buildStanza(t, repoDir, "aaa")
	repo := storage.NewRepo(posix.New(), repoDir)

	stanzas, err := Run(context.Background(), Options{Repo: repo})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stanzas) != 2 || stanzas[0].Name != "aaa" || stanzas[1].Name != "zzz" {
		t.Fatalf("expected stanzas sorted ascending, got %+v", stanzas)
	}
}
