package backup

import (
	"context"

	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// RetentionOptions configures the expire phase (spec §4.5, "Expiry: an
// expire phase ... applies retention rules (full, diff, archive)").
// Zero means "keep everything" for that rule.
type RetentionOptions struct {
	RetentionFull    int // count of full backups to keep
	RetentionDiff    int // count of differentials to keep (per retained full)
	RetentionArchive int // count of full backups whose WAL range stays archived
}

// Expire applies retention and removes the backups it selects, along with
// their backup.info entries. Archived WAL is not removed: RetentionArchive
// is not consulted here, and ArchiveRetentionRange only reports the
// cut-off. Backups are deleted oldest-first, honoring the
// reference chain: retention-full drops a full together with every
// differential/incremental still chained to it (spec §4.5).
func Expire(ctx context.Context, repo *storage.Repo, stanza string, opt RetentionOptions) ([]string, error) {
	backupPath := repo.BackupInfoPath(stanza, false)
	bi, err := info.LoadInfoFrom(repo.Driver, backupPath)
	if err != nil {
		return nil, err
	}

	toDelete := expireCandidates(bi, opt)
	for _, label := range toDelete {
		if err := storage.RemoveTree(ctx, repo.Driver, repo.BackupDir(stanza, label)); err != nil {
			return nil, err
		}
		bi.Remove(label)
	}

	if err := bi.SaveTo(repo.Driver, backupPath); err != nil {
		return nil, err
	}
	return toDelete, nil
}

// expireCandidates decides which backup labels retention would remove,
// without touching storage; it is the pure decision core Expire drives.
//
// A full falling outside retention-full takes every differential and
// incremental that depends on it with it in the same pass, since none of
// them can stand alone once their full is gone (spec §4.5, "a full cannot
// be deleted while any live differential/incremental references it" — the
// full and its dependents are retired together, never the full alone).
// retention-diff only prunes the dependents of a full that is itself
// being kept.
func expireCandidates(bi *info.Info, opt RetentionOptions) []string {
	sorted := bi.Sorted() // oldest first

	fullsOldestFirst := make([]info.Backup, 0, len(sorted))
	for _, b := range sorted {
		if b.Type == info.BackupFull {
			fullsOldestFirst = append(fullsOldestFirst, b)
		}
	}

	keepFull := map[string]bool{}
	if opt.RetentionFull > 0 && opt.RetentionFull < len(fullsOldestFirst) {
		for _, b := range fullsOldestFirst[len(fullsOldestFirst)-opt.RetentionFull:] {
			keepFull[b.Label] = true
		}
	} else {
		for _, b := range fullsOldestFirst {
			keepFull[b.Label] = true
		}
	}

	var toDelete []string
	for _, b := range sorted {
		full := b.Label
		if b.Type != info.BackupFull {
			full = ancestorFull(bi, b)
		}
		if full == "" || !keepFull[full] {
			toDelete = append(toDelete, b.Label)
			continue
		}
		if b.Type != info.BackupFull && expiredByDiffRetention(bi, b, opt) {
			toDelete = append(toDelete, b.Label)
		}
	}
	return toDelete
}

// expiredByDiffRetention reports whether a diff/incr backup falls outside
// the retained differential count for its full ancestor.
func expiredByDiffRetention(bi *info.Info, b info.Backup, opt RetentionOptions) bool {
	if opt.RetentionDiff <= 0 || b.Type == info.BackupFull {
		return false
	}
	fullLabel := ancestorFull(bi, b)
	if fullLabel == "" {
		return false
	}
	var siblings []info.Backup
	for _, cand := range bi.Sorted() {
		if cand.Type == info.BackupFull {
			continue
		}
		if ancestorFull(bi, cand) == fullLabel {
			siblings = append(siblings, cand)
		}
	}
	if len(siblings) <= opt.RetentionDiff {
		return false
	}
	cutoff := len(siblings) - opt.RetentionDiff
	for _, s := range siblings[:cutoff] {
		if s.Label == b.Label {
			return true
		}
	}
	return false
}

func ancestorFull(bi *info.Info, b info.Backup) string {
	cur := b
	seen := map[string]bool{}
	for cur.Type != info.BackupFull {
		if seen[cur.Label] {
			return "" // cycle; leave classification to Info.Chain's own validation
		}
		seen[cur.Label] = true
		next, ok := bi.Backups[cur.Prior]
		if !ok {
			return ""
		}
		cur = next
	}
	return cur.Label
}

// ArchiveRetentionRange reports the earliest WAL segment the archive
// retention rule still requires, by walking back RetentionArchive full
// backups from the newest and returning that full's WalStart (spec
// §4.5, "--repo-retention-archive"). WAL older than this is eligible for
// removal from the archive, independent of backup retention.
func ArchiveRetentionRange(bi *info.Info, retentionArchive int) (string, error) {
	sorted := bi.Sorted()
	var fulls []info.Backup
	for _, b := range sorted {
		if b.Type == info.BackupFull {
			fulls = append(fulls, b)
		}
	}
	if retentionArchive <= 0 || len(fulls) == 0 {
		return "", nil
	}
	idx := len(fulls) - retentionArchive
	if idx < 0 {
		idx = 0
	}
	return fulls[idx].WalStart, nil
}
