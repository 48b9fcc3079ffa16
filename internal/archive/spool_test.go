package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

func testSpool(t *testing.T) Spool {
	t.Helper()
	sp := Spool{Root: t.TempDir(), Stanza: "main", Dir: Out}
	if err := sp.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	return sp
}

func TestSpoolPaths(t *testing.T) {
	sp := Spool{Root: "/spool", Stanza: "main", Dir: Out}
	seg := "00000001000000000000000A"
	if got, want := sp.SegmentPath(seg), filepath.Join("/spool", "archive", "main", "out", seg); got != want {
		t.Errorf("SegmentPath=%q, want %q", got, want)
	}
	if got := sp.OkPath(seg); got != sp.SegmentPath(seg)+".ok" {
		t.Errorf("OkPath=%q", got)
	}
}

func TestWriteAndReadOKStatus(t *testing.T) {
	sp := testSpool(t)
	seg := "00000001000000000000000A"
	if err := sp.WriteOK(seg, "warn here"); err != nil {
		t.Fatalf("WriteOK: %v", err)
	}
	st, notFound, err := sp.ReadStatus(seg)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if !st.OK || notFound {
		t.Errorf("status=%+v notFound=%v", st, notFound)
	}
}

func TestWriteNotFoundOK(t *testing.T) {
	sp := testSpool(t)
	seg := "00000001000000000000000B"
	if err := sp.WriteNotFoundOK(seg); err != nil {
		t.Fatalf("WriteNotFoundOK: %v", err)
	}
	_, notFound, err := sp.ReadStatus(seg)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if !notFound {
		t.Error("expected notFound=true")
	}
}

func TestWriteAndReadErrorStatus(t *testing.T) {
	sp := testSpool(t)
	seg := "00000001000000000000000C"
	if err := sp.WriteError(seg, errkind.ArchiveTimeoutError, "boom"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	st, _, err := sp.ReadStatus(seg)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st.OK {
		t.Error("expected OK=false")
	}
	if st.Message != "boom" {
		t.Errorf("Message=%q, want boom", st.Message)
	}
}

func TestClearStatus(t *testing.T) {
	sp := testSpool(t)
	seg := "00000001000000000000000D"
	sp.WriteOK(seg, "")
	sp.ClearStatus(seg)
	if _, err := os.Stat(sp.OkPath(seg)); !os.IsNotExist(err) {
		t.Error("expected .ok to be removed")
	}
}
