package verify

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// WalRange is one contiguous run of WAL segments found on disk for a
// single archiveId, broken wherever the on-disk successor distance from
// one segment to the next does not match the version's expected WAL
// naming successor rule (spec §4.7).
type WalRange struct {
	Start        pginterface.WalSegment
	Stop         pginterface.WalSegment
	InvalidFiles []string // repository paths VerifyFile rejected within this range
}

// walSegmentFile is one segment file observed on disk for a single
// archiveId: its parsed 24-char name, full repository path, and the
// compression extension (if any) recorded in its on-disk filename.
type walSegmentFile struct {
	Segment pginterface.WalSegment
	Path    string
	Ext     string
}

func segLess(a, b pginterface.WalSegment) bool {
	if a.Timeline != b.Timeline {
		return a.Timeline < b.Timeline
	}
	if a.Log != b.Log {
		return a.Log < b.Log
	}
	return a.Seg < b.Seg
}

// ListArchiveIDSegments walks every 16-hex-char prefix subdirectory of
// archiveId's directory and returns every segment file found, sorted
// ascending by (timeline, log, seg). A second on-disk file sharing the
// same 24-char segment name (distinct sha1 suffix) is reported in dupes
// instead of being added twice (spec §4.7, "detect and remove duplicate
// segment names").
func ListArchiveIDSegments(ctx context.Context, r *storage.Repo, stanza, archiveID string) (files []walSegmentFile, dupes []string, err error) {
	dir := r.ArchiveIDDir(stanza, archiveID)
	top, err := r.Driver.List(ctx, dir)
	if err != nil {
		return nil, nil, err
	}

	var prefixes []string
	for _, e := range top {
		if e.IsDir {
			prefixes = append(prefixes, e.Name)
		}
	}
	sort.Strings(prefixes)

	seen := map[string]bool{}
	for _, prefix := range prefixes {
		sub := dir + "/" + prefix
		entries, err := r.Driver.List(ctx, sub)
		if err != nil {
			return nil, nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			if len(e.Name) < 24 {
				continue
			}
			name24 := e.Name[:24]
			if !pginterface.WalSegmentNameRE.MatchString(name24) {
				continue
			}
			if seen[name24] {
				dupes = append(dupes, sub+"/"+e.Name)
				continue
			}
			seen[name24] = true
			seg, err := pginterface.ParseWalSegment(name24)
			if err != nil {
				continue
			}
			files = append(files, walSegmentFile{
				Segment: seg,
				Path:    sub + "/" + e.Name,
				Ext:     filepath.Ext(e.Name),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return segLess(files[i].Segment, files[j].Segment) })
	return files, dupes, nil
}

// BuildRanges groups a sorted, de-duplicated segment list into WalRanges,
// starting a new range wherever the successor distance from the previous
// kept segment isn't exactly one WalSegment.Next() step, and pulling out
// (as legacyInvalid, a job error per spec §4.7) any segment ending in the
// reserved 0xFF boundary value on PostgreSQL <= 9.2, which never actually
// appears in a well-formed archive. members[i] lists the segment files
// that make up ranges[i], in the same order Run dispatches VerifyFile
// jobs for them.
func BuildRanges(files []walSegmentFile, walSegmentSize uint32, pgVersion int) (ranges []WalRange, members [][]walSegmentFile, legacyInvalid []string) {
	for _, f := range files {
		if pginterface.IsSkippedLegacySegment(f.Segment.Seg, pgVersion) {
			legacyInvalid = append(legacyInvalid, f.Path)
			continue
		}
		if len(ranges) == 0 || ranges[len(ranges)-1].Stop.Next(walSegmentSize, pgVersion) != f.Segment {
			ranges = append(ranges, WalRange{Start: f.Segment, Stop: f.Segment})
			members = append(members, []walSegmentFile{f})
			continue
		}
		last := len(ranges) - 1
		ranges[last].Stop = f.Segment
		members[last] = append(members[last], f)
	}
	return ranges, members, legacyInvalid
}
