package info

import "github.com/pgrepo/pgrepo/internal/errkind"

// CheckConsistency enforces the cross-file invariants from spec §4.2
// whenever archive.info and backup.info are read together: same current
// {id, version, systemId}, and pairwise-equal history lists.
func CheckConsistency(a *Archive, b *Info) error {
	ac, ok := a.History.Current()
	if !ok {
		return errkind.New(errkind.ArchiveMismatchError, "archive.info has no PG version history")
	}
	bc, ok := b.History.Current()
	if !ok {
		return errkind.New(errkind.BackupMismatchError, "backup.info has no PG version history")
	}
	if ac.ID != bc.ID || ac.Version != bc.Version || ac.SystemID != bc.SystemID {
		return errkind.New(errkind.ArchiveMismatchError,
			"archive.info and backup.info disagree on current PG version: %s-%d vs %s-%d",
			ac.Version, ac.ID, bc.Version, bc.ID)
	}
	if len(a.History) != len(b.History) {
		return errkind.New(errkind.ArchiveMismatchError,
			"archive.info and backup.info history lengths differ: %d vs %d",
			len(a.History), len(b.History))
	}
	for i := range a.History {
		av, bv := a.History[i], b.History[i]
		if av.ID != bv.ID || av.Version != bv.Version || av.SystemID != bv.SystemID {
			return errkind.New(errkind.ArchiveMismatchError,
				"archive.info and backup.info history entry %d mismatch", i)
		}
	}
	return nil
}

// CheckLive verifies the current history entry matches a live cluster's
// identity, required on stanza-create/upgrade and backup start (spec
// §4.2 consistency checks).
func CheckLive(h History, systemID int64, controlVersion, catalogVersion int) error {
	if !h.Matches(systemID, controlVersion, catalogVersion) {
		return errkind.New(errkind.DbMismatchError,
			"live cluster identity does not match current PG version history entry")
	}
	return nil
}
