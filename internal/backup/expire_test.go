package backup

import (
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/info"
)

func mkBackup(label string, typ info.BackupType, prior string, ts time.Time) info.Backup {
	return info.Backup{Label: label, Type: typ, Prior: prior, Timestamp: ts}
}

func TestExpireCandidatesKeepsRetainedFullsAndReferences(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bi := &info.Info{Backups: map[string]info.Backup{}}
	bi.Add(mkBackup("F1", info.BackupFull, "", base))
	bi.Add(mkBackup("F1_D1", info.BackupDiff, "F1", base.Add(time.Hour)))
	bi.Add(mkBackup("F2", info.BackupFull, "", base.Add(24*time.Hour)))
	bi.Add(mkBackup("F2_D1", info.BackupDiff, "F2", base.Add(25*time.Hour)))
	bi.Add(mkBackup("F3", info.BackupFull, "", base.Add(48*time.Hour)))

	got := expireCandidates(bi, RetentionOptions{RetentionFull: 2})
	want := map[string]bool{"F1": true, "F1_D1": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), got)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected expire candidate %s", g)
		}
	}
}

func TestExpireCandidatesHonorsDiffRetention(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bi := &info.Info{Backups: map[string]info.Backup{}}
	bi.Add(mkBackup("F1", info.BackupFull, "", base))
	bi.Add(mkBackup("F1_D1", info.BackupDiff, "F1", base.Add(1*time.Hour)))
	bi.Add(mkBackup("F1_D2", info.BackupDiff, "F1", base.Add(2*time.Hour)))
	bi.Add(mkBackup("F1_D3", info.BackupDiff, "F1", base.Add(3*time.Hour)))

	got := expireCandidates(bi, RetentionOptions{RetentionDiff: 1})
	if len(got) != 2 {
		t.Fatalf("expected 2 diffs expired, got %v", got)
	}
	for _, g := range got {
		if g == "F1_D3" {
			t.Errorf("newest differential F1_D3 should be retained, not expired")
		}
	}
}

func TestExpireCandidatesCascadesDependentsWithExpiredFull(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bi := &info.Info{Backups: map[string]info.Backup{}}
	bi.Add(mkBackup("F1", info.BackupFull, "", base))
	bi.Add(mkBackup("F1_D1", info.BackupDiff, "F1", base.Add(time.Hour)))
	bi.Add(mkBackup("F2", info.BackupFull, "", base.Add(24*time.Hour)))

	got := expireCandidates(bi, RetentionOptions{RetentionFull: 1})
	want := map[string]bool{"F1": true, "F1_D1": true}
	if len(got) != len(want) {
		t.Fatalf("expected F1 and its dependent F1_D1 to expire together, got %v", got)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected expire candidate %s", g)
		}
	}
}

func TestArchiveRetentionRange(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bi := &info.Info{Backups: map[string]info.Backup{}}
	f1 := mkBackup("F1", info.BackupFull, "", base)
	f1.WalStart = "000000010000000000000001"
	f2 := mkBackup("F2", info.BackupFull, "", base.Add(24*time.Hour))
	f2.WalStart = "000000010000000000000010"
	bi.Add(f1)
	bi.Add(f2)

	got, err := ArchiveRetentionRange(bi, 1)
	if err != nil {
		t.Fatalf("ArchiveRetentionRange: %v", err)
	}
	if got != f2.WalStart {
		t.Errorf("expected retention range to start at newest full's wal start %s, got %s", f2.WalStart, got)
	}
}
