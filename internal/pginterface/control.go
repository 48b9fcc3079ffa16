package pginterface

import (
	"encoding/binary"
	"fmt"
	"os"
)

// pg_control field offsets below are the ones that have been stable across
// PG 10-17: system_identifier at 0, pg_control_version at 8, catalog_version
// at 12, then a run of fixed-size fields up to checkPointCopy (a full
// CheckPoint struct) and walSegSz near the tail of the first 512-byte
// sector before the CRC. Exact intra-struct offsets still drift a little
// release to release; the core only needs a few scalars, so rather than lay
// out the whole C struct, ReadControl scans for the walSegSz dword (a
// power of two between 1MiB and 1GiB, spec §3) and reads system id,
// control and catalog version, checkpoint LSN and timeline from the
// well-known header prefix.
const (
	controlSystemIDOffset   = 0
	controlVersionOffset    = 8
	controlCatalogOffset    = 12
	controlCheckpointOffset = 16 // checkPointCopy.redo (first LSN field in CheckPoint)
	controlTimelineOffset   = controlCheckpointOffset + 8 // checkPointCopy.ThisTimeLineID, right after redo
	controlMinSize          = 512
)

// ReadControl parses $PGDATA/global/pg_control and returns the scalars the
// core needs. It deliberately does not attempt a byte-exact reimplementation
// of PostgreSQL's ControlFileData struct (spec §1: out of scope, only the
// adapter's returned values are specified).
func ReadControl(path string) (*PgControl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pg_control: %w", err)
	}
	if len(data) < controlMinSize {
		return nil, fmt.Errorf("pg_control too small: %d bytes", len(data))
	}

	c := &PgControl{
		SystemID:       binary.LittleEndian.Uint64(data[controlSystemIDOffset:]),
		ControlVersion: binary.LittleEndian.Uint32(data[controlVersionOffset:]),
		CatalogVersion: binary.LittleEndian.Uint32(data[controlCatalogOffset:]),
		Checkpoint:     LSN(binary.LittleEndian.Uint64(data[controlCheckpointOffset:])),
		TimelineID:     binary.LittleEndian.Uint32(data[controlTimelineOffset:]),
	}
	c.Version = controlVersionToPgVersion(c.ControlVersion)

	segSize, err := findWalSegmentSize(data)
	if err != nil {
		return nil, err
	}
	c.WalSegmentSize = segSize

	return c, nil
}

// controlVersionToPgVersion maps the pg_control format version number
// (bumped on on-disk layout changes, not every PG release) to an
// approximate server version used only for display/compat branching.
// Entries are the documented PG_CONTROL_VERSION values; PG 13 through 16
// share 1300 and all map to 130000.
func controlVersionToPgVersion(controlVersion uint32) int {
	switch {
	case controlVersion >= 1700:
		return 170000
	case controlVersion >= 1300:
		return 130000
	case controlVersion >= 1201:
		return 120000
	case controlVersion >= 1100:
		return 110000
	case controlVersion >= 1002:
		return 100000
	default:
		return 90600
	}
}

// findWalSegmentSize scans the header for the xlog_seg_size dword: a power
// of two in [1MiB, 1GiB]. PostgreSQL writes this value once per cluster and
// it never appears elsewhere in the fixed header, so a scan is safe and
// avoids pinning an exact offset that has moved across major versions.
func findWalSegmentSize(data []byte) (uint32, error) {
	const minSeg = 1 << 20
	const maxSeg = 1 << 30
	for off := controlCheckpointOffset + 8; off+4 <= len(data) && off < controlMinSize; off += 4 {
		v := binary.LittleEndian.Uint32(data[off:])
		if v >= minSeg && v <= maxSeg && v&(v-1) == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("walSegmentSize not found in pg_control header")
}
