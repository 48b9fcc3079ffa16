// Package pginterface is the PgInterface adapter: it isolates every piece
// of knowledge about PostgreSQL's on-disk control file, WAL segment naming
// and the fixed control-plane query set behind a small set of Go types,
// so the backup/restore/archive/verify engines never touch libpq wire
// details or pg_control byte offsets directly.
package pginterface

import "fmt"

// LSN is a PostgreSQL log sequence number, stored as the raw uint64 value
// (hi<<32 | lo) but rendered/parsed in the usual "%X/%X" textual form.
type LSN uint64

// ParseLSN parses the "hi/lo" hex form PostgreSQL uses everywhere (e.g.
// query results, backup_label, pg_control).
func ParseLSN(s string) (LSN, error) {
	var hi, lo uint32
	if _, err := fmt.Sscanf(s, "%X/%X", &hi, &lo); err != nil {
		return 0, fmt.Errorf("parse lsn %q: %w", s, err)
	}
	return LSN(uint64(hi)<<32 | uint64(lo)), nil
}

func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(l>>32), uint32(l))
}

// Less reports whether l precedes other.
func (l LSN) Less(other LSN) bool { return l < other }

// PgControl is the subset of pg_control the core needs, per spec §1/§2:
// version, system id, catalog version, WAL segment size and checkpoint LSN.
type PgControl struct {
	Version        int    // e.g. 160000 for PG16
	SystemID       uint64
	CatalogVersion uint32
	ControlVersion uint32
	WalSegmentSize uint32 // bytes, >= 1 MiB
	Checkpoint     LSN
	TimelineID     uint32
}

// VersionString renders Version the way pgbackrest-style tooling does,
// e.g. 160003 -> "16", 90624 -> "9.6".
func (c PgControl) VersionString() string {
	major := c.Version / 10000
	if major >= 10 {
		return fmt.Sprintf("%d", major)
	}
	minor := (c.Version / 100) % 100
	return fmt.Sprintf("%d.%d", major, minor)
}

// Tablespace is an OID->location mapping read from pg_tablespace.
type Tablespace struct {
	Oid      uint32
	Name     string
	Location string
}

// BackupStartResult is returned by pg_start_backup/pg_backup_start.
type BackupStartResult struct {
	LSN         LSN
	WalFileName string
}

// BackupStopResult is returned by pg_stop_backup/pg_backup_stop.
type BackupStopResult struct {
	LSN             LSN
	WalFileName     string
	BackupLabelFile []byte
	TablespaceMap   []byte
}

// PG_USER_OBJECT_MIN_ID is the smallest database/relation OID a normal
// CREATE DATABASE can allocate; anything below it is a system catalog
// object and is never excluded by selective restore (spec §4.6, Open
// Questions). It has been stable at 16384 since PostgreSQL 12 use of
// the OID counter reservation; DESIGN.md records this as a decided
// Open Question rather than a guess.
const PgUserObjectMinID = 16384
