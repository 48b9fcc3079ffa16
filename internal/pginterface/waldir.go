package pginterface

import (
	"fmt"
	"regexp"
)

// WalSegmentNameRE matches a bare 24-hex-char WAL segment name (spec §3).
var WalSegmentNameRE = regexp.MustCompile(`^[0-9A-F]{24}$`)

// HistoryFileRE matches a timeline history file name, e.g. "00000002.history".
var HistoryFileRE = regexp.MustCompile(`^([0-9A-F]{8})\.history$`)

// WalSegment is a parsed 24-hex-char WAL segment name.
type WalSegment struct {
	Timeline uint32
	Log      uint32
	Seg      uint32
}

// ParseWalSegment parses a 24-hex-char segment name.
func ParseWalSegment(name string) (WalSegment, error) {
	if !WalSegmentNameRE.MatchString(name) {
		return WalSegment{}, fmt.Errorf("invalid wal segment name %q", name)
	}
	var tli, log, seg uint32
	if _, err := fmt.Sscanf(name, "%08X%08X%08X", &tli, &log, &seg); err != nil {
		return WalSegment{}, fmt.Errorf("parse wal segment %q: %w", name, err)
	}
	return WalSegment{Timeline: tli, Log: log, Seg: seg}, nil
}

// String renders the canonical 24-hex-char name.
func (w WalSegment) String() string {
	return fmt.Sprintf("%08X%08X%08X", w.Timeline, w.Log, w.Seg)
}

// segPerLog is the number of segment files per 4GiB logical "log" file,
// derived from walSegmentSize (spec §3: walSegmentSize >= 1MiB).
func segPerLog(walSegmentSize uint32) uint32 {
	return uint32((uint64(1) << 32) / uint64(walSegmentSize))
}

// Next returns the successor segment name for the given WAL segment size
// and PG version, implementing the filename successor rule of spec
// §4.4.1: segments ending in "FF" are skipped on PostgreSQL <= 9.2, whose
// xlog file naming used a fixed 0xFF segment-per-log count regardless of
// configured segment size.
func (w WalSegment) Next(walSegmentSize uint32, pgVersion int) WalSegment {
	perLog := segPerLog(walSegmentSize)
	if pgVersion <= 90200 {
		// pre-9.3: segment-per-log is always 0xFF irrespective of size.
		perLog = 0xFF
	}

	next := w
	next.Seg++
	if next.Seg >= perLog {
		next.Seg = 0
		next.Log++
	}
	return next
}

// IsSkippedLegacySegment reports whether, on PG <= 9.2, this segment number
// is the reserved 0xFF boundary segment that is never written to disk.
func IsSkippedLegacySegment(seg uint32, pgVersion int) bool {
	return pgVersion <= 90200 && seg == 0xFF
}

// ProjectQueue returns the anchor segment plus the next (count-1) segments
// per the successor rule, used by the archive-push async worker to decide
// which segments belong in the spool (spec §4.4.1 step 3).
func ProjectQueue(anchor WalSegment, count int, walSegmentSize uint32, pgVersion int) []WalSegment {
	if count < 1 {
		count = 1
	}
	out := make([]WalSegment, 0, count)
	cur := anchor
	for i := 0; i < count; i++ {
		if IsSkippedLegacySegment(cur.Seg, pgVersion) {
			cur = cur.Next(walSegmentSize, pgVersion)
		}
		out = append(out, cur)
		cur = cur.Next(walSegmentSize, pgVersion)
	}
	return out
}

// QueueSize computes max(2, queueMax/walSegmentSize) per spec §4.4.1.
func QueueSize(queueMaxBytes int64, walSegmentSize uint32) int {
	n := int(queueMaxBytes / int64(walSegmentSize))
	if n < 2 {
		n = 2
	}
	return n
}

// WalFileName computes the WAL segment name containing lsn, given the
// cluster's timeline and WAL segment size — the Go equivalent of
// pg_walfile_name(lsn).
func WalFileName(lsn LSN, timeline uint32, walSegmentSize uint32) string {
	segNo := uint64(lsn) / uint64(walSegmentSize)
	perLog := uint64(segPerLog(walSegmentSize))
	log := segNo / perLog
	seg := segNo % perLog
	return WalSegment{Timeline: timeline, Log: uint32(log), Seg: uint32(seg)}.String()
}
