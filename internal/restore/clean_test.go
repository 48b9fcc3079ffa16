package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pgrepo/pgrepo/internal/info"
)

func TestCleanCreatesMissingTargetDir(t *testing.T) {
	base := t.TempDir()
	pgData := filepath.Join(base, "pgdata")
	m := &info.Manifest{Targets: []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: pgData}}}

	if err := Clean(context.Background(), pgData, m, false, false); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	fi, err := os.Stat(pgData)
	if err != nil || !fi.IsDir() {
		t.Fatalf("expected pgData to be created as a directory")
	}
}

func TestCleanRejectsNonEmptyTargetWithoutDelta(t *testing.T) {
	pgData := t.TempDir()
	if err := os.WriteFile(filepath.Join(pgData, "stray"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	m := &info.Manifest{Targets: []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: pgData}}}

	if err := Clean(context.Background(), pgData, m, false, false); err == nil {
		t.Fatal("expected an error for a non-empty target without --delta")
	}
}

func TestCleanToleratesWellKnownEntriesWithoutDelta(t *testing.T) {
	pgData := t.TempDir()
	if err := os.WriteFile(filepath.Join(pgData, "backup.manifest"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	m := &info.Manifest{Targets: []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: pgData}}}

	if err := Clean(context.Background(), pgData, m, false, false); err != nil {
		t.Fatalf("expected backup.manifest to be tolerated: %v", err)
	}
}

func TestCleanDeltaRemovesUnmanifestedEntries(t *testing.T) {
	pgData := t.TempDir()
	if err := os.MkdirAll(filepath.Join(pgData, "base", "1"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pgData, "base", "1", "1234"), []byte("keep"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pgData, "stray_file"), []byte("drop me"), 0o640); err != nil {
		t.Fatal(err)
	}

	m := &info.Manifest{
		Targets: []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: pgData}},
		Paths:   []info.PathEntry{{Name: "pg_data/base"}, {Name: "pg_data/base/1"}},
		Files:   []info.FileEntry{{Name: "pg_data/base/1/1234"}},
	}

	if err := Clean(context.Background(), pgData, m, true, false); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pgData, "stray_file")); !os.IsNotExist(err) {
		t.Error("expected stray_file to be removed by delta clean")
	}
	if _, err := os.Stat(filepath.Join(pgData, "base", "1", "1234")); err != nil {
		t.Error("expected manifested file to survive delta clean")
	}
}

func TestCreatePathsAndLinksSkipsSyntheticTablespaceMapping(t *testing.T) {
	pgData := t.TempDir()
	tsDir := t.TempDir()

	m := &info.Manifest{
		Targets: []info.Target{
			{Name: info.PgDataTarget, Type: info.TargetPath, Path: pgData},
			{Name: "pg_tblspc/16401", Type: info.TargetLink, TablespaceID: "16401", Path: tsDir},
		},
		Links: []info.LinkEntry{
			{Name: "pg_data/pg_tblspc/16401", Destination: "/some/stale/path"},
		},
	}

	if err := createPathsAndLinks(pgData, m); err != nil {
		t.Fatalf("createPathsAndLinks: %v", err)
	}

	dest, err := os.Readlink(filepath.Join(pgData, "pg_tblspc", "16401"))
	if err != nil {
		t.Fatalf("expected a tablespace symlink: %v", err)
	}
	if dest != tsDir {
		t.Errorf("expected the tablespace link to point at the remapped target path %s, got %s", tsDir, dest)
	}
}
