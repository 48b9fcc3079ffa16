package info

import (
	"fmt"
	"strconv"
	"strings"
)

// PgVersion is one entry in an info file's PostgreSQL version history: the
// cluster identity the archive or backup set was created against, and the
// archive-id under which its WAL/backups are namespaced (spec §3,
// "ArchiveId = <pgVersion>-<pgSystemId-derived integer>").
type PgVersion struct {
	ID              int    `json:"id"`
	Version         string `json:"db-version"`
	SystemID        int64  `json:"system-id"`
	ControlVersion  int    `json:"db-control-version"`
	CatalogVersion  int    `json:"db-catalog-version"`
	WalSegmentSize  int    `json:"db-wal-segment-size"`
}

// ArchiveID renders the <version>-<id> namespacing string (spec §3).
func (v PgVersion) ArchiveID() string {
	return fmt.Sprintf("%s-%d", v.Version, v.ID)
}

// VersionNum parses the history's dotted/bare major-version string
// ("9.6", "10", "16") into the same numeric scheme pg_control's
// version-detection produces (90600, 100000, 160000), so WAL
// successor/legacy-segment rules (pginterface.WalSegment.Next,
// IsSkippedLegacySegment) can be evaluated from a stored PgVersion
// record alone, without a live connection.
func (v PgVersion) VersionNum() int {
	parts := strings.SplitN(v.Version, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if major >= 10 || len(parts) < 2 {
		return major * 10000
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return major * 10000
	}
	return major*10000 + minor*100
}

// History is an ordered, append-only list of PgVersion records. A new
// record is appended whenever the cluster's version or system identity
// changes (pg_upgrade, stanza-upgrade); prior records are retained so WAL
// and backups archived under the old identity remain addressable.
type History []PgVersion

// Current returns the most recently appended record, or the zero value
// and false if the history is empty.
func (h History) Current() (PgVersion, bool) {
	if len(h) == 0 {
		return PgVersion{}, false
	}
	return h[len(h)-1], true
}

// Find returns the record matching archiveID, if any.
func (h History) Find(archiveID string) (PgVersion, bool) {
	for _, v := range h {
		if v.ArchiveID() == archiveID {
			return v, true
		}
	}
	return PgVersion{}, false
}

// Matches reports whether candidate is compatible with the current
// history entry: same system id always required; same control/catalog
// version required unless upgrading (caller decides upgrade intent).
func (h History) Matches(systemID int64, controlVersion, catalogVersion int) bool {
	cur, ok := h.Current()
	if !ok {
		return false
	}
	return cur.SystemID == systemID &&
		cur.ControlVersion == controlVersion &&
		cur.CatalogVersion == catalogVersion
}
