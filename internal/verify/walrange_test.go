package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
)

func writeSegmentFile(t *testing.T, repoDir, stanza, archiveID, name24, sha1Hex string) {
	t.Helper()
	prefix := name24[:16]
	dir := filepath.Join(repoDir, "archive", stanza, archiveID, prefix)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name24+"-"+sha1Hex)
	if err := os.WriteFile(path, []byte("wal payload"), 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestListArchiveIDSegmentsSortsAndDedups(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)

	writeSegmentFile(t, repoDir, "main", "16-1", "000000010000000000000002", "aaaa")
	writeSegmentFile(t, repoDir, "main", "16-1", "000000010000000000000001", "bbbb")
	writeSegmentFile(t, repoDir, "main", "16-1", "000000010000000000000001", "cccc") // duplicate of 000...001

	files, dupes, err := ListArchiveIDSegments(context.Background(), repo, "main", "16-1")
	if err != nil {
		t.Fatalf("ListArchiveIDSegments: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 distinct segments, got %d", len(files))
	}
	if files[0].Segment.Seg != 1 || files[1].Segment.Seg != 2 {
		t.Errorf("expected segments sorted ascending, got %+v", files)
	}
	if len(dupes) != 1 {
		t.Errorf("expected 1 duplicate recorded, got %d", len(dupes))
	}
}

func TestListArchiveIDSegmentsPropagatesMissingDirError(t *testing.T) {
	// ListArchiveIDSegments itself propagates the driver's PathMissingError;
	// verifyArchiveID is the layer that tolerates "no archive yet" for a
	// history entry with nothing pushed (see verify.go).
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)

	_, _, err := ListArchiveIDSegments(context.Background(), repo, "main", "16-1")
	if err == nil {
		t.Fatal("expected an error for a missing archiveId directory")
	}
}

func seg(log, n uint32) pginterface.WalSegment {
	return pginterface.WalSegment{Timeline: 1, Log: log, Seg: n}
}

func TestBuildRangesSplitsOnGap(t *testing.T) {
	files := []walSegmentFile{
		{Segment: seg(0, 1), Path: "a"},
		{Segment: seg(0, 2), Path: "b"},
		{Segment: seg(0, 5), Path: "c"}, // gap: skips 3, 4
	}
	ranges, members, legacy := BuildRanges(files, 16<<20, 160000)
	if len(legacy) != 0 {
		t.Fatalf("expected no legacy-invalid segments, got %v", legacy)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges across the gap, got %d", len(ranges))
	}
	if ranges[0].Start != seg(0, 1) || ranges[0].Stop != seg(0, 2) {
		t.Errorf("unexpected first range: %+v", ranges[0])
	}
	if ranges[1].Start != seg(0, 5) || ranges[1].Stop != seg(0, 5) {
		t.Errorf("unexpected second range: %+v", ranges[1])
	}
	if len(members[0]) != 2 || len(members[1]) != 1 {
		t.Errorf("unexpected member counts: %v", members)
	}
}

func TestBuildRangesContiguousStaysOneRange(t *testing.T) {
	files := []walSegmentFile{
		{Segment: seg(0, 1), Path: "a"},
		{Segment: seg(0, 2), Path: "b"},
		{Segment: seg(0, 3), Path: "c"},
	}
	ranges, members, _ := BuildRanges(files, 16<<20, 160000)
	if len(ranges) != 1 {
		t.Fatalf("expected a single contiguous range, got %d", len(ranges))
	}
	if len(members[0]) != 3 {
		t.Errorf("expected all 3 files in the one range, got %d", len(members[0]))
	}
}

func TestBuildRangesDropsLegacyFFSegment(t *testing.T) {
	// PG <= 9.2 never legitimately writes a segment ending in 0xFF; one
	// showing up on disk is pulled out as a job error, and the segments on
	// either side of it still chain normally since WalSegment.Next already
	// skips 0xFF for this version.
	files := []walSegmentFile{
		{Segment: seg(0, 0xFE), Path: "a"},
		{Segment: seg(0, 0xFF), Path: "rogue"},
		{Segment: seg(1, 0), Path: "b"},
	}
	ranges, _, legacy := BuildRanges(files, 16<<20, 90200)
	if len(legacy) != 1 || legacy[0] != "rogue" {
		t.Fatalf("expected the 0xFF segment pulled out as legacy-invalid, got %v", legacy)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected the FE/00 boundary to still chain into one range, got %d ranges: %+v", len(ranges), ranges)
	}
}
