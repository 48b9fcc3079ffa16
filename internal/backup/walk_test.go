package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/pginterface"
)

func TestBuildManifestWalksPgDataAndTablespaces(t *testing.T) {
	pgData := t.TempDir()
	if err := os.MkdirAll(filepath.Join(pgData, "base", "1"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pgData, "base", "1", "1234"), []byte("data"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pgData, "PG_VERSION"), []byte("16"), 0o640); err != nil {
		t.Fatal(err)
	}

	tsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tsDir, "1"), []byte("tsfile"), 0o640); err != nil {
		t.Fatal(err)
	}

	m, err := BuildManifest(pgData, []pginterface.Tablespace{{Oid: 16401, Name: "ts1", Location: tsDir}})
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	if err := m.Validate(); err != nil {
		t.Fatalf("manifest invalid: %v", err)
	}

	var sawPgVersion, sawTsFile bool
	for _, f := range m.Files {
		if f.Name == "pg_data/PG_VERSION" {
			sawPgVersion = true
		}
		if f.Name == "pg_tblspc/16401/1" {
			sawTsFile = true
		}
	}
	if !sawPgVersion {
		t.Error("expected pg_data/PG_VERSION in manifest files")
	}
	if !sawTsFile {
		t.Error("expected tablespace file in manifest files")
	}

	foundLink := false
	for _, l := range m.Links {
		if l.Name == "pg_data/pg_tblspc/16401" && l.Destination == tsDir {
			foundLink = true
		}
	}
	if !foundLink {
		t.Error("expected pg_tblspc link entry for tablespace")
	}
}

func TestIsSameIncremental(t *testing.T) {
	ts := time.Now()
	a := info.FileEntry{Size: 100, Timestamp: ts, Checksum: "abc"}
	b := info.FileEntry{Size: 100, Timestamp: ts, Checksum: "abc"}
	if !IsSameIncremental(a, b) {
		t.Error("expected identical entries to be considered the same")
	}
	b.Checksum = "def"
	if IsSameIncremental(a, b) {
		t.Error("expected checksum mismatch to break equality")
	}
}
