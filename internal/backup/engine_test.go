package backup

import (
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/filter/pagechecksum"
	"github.com/pgrepo/pgrepo/internal/info"
)

func TestBackupLabelFormat(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	full := backupLabel(now, info.BackupFull, "")
	if full != "20260304-050607F" {
		t.Errorf("unexpected full label: %s", full)
	}

	diff := backupLabel(now, info.BackupDiff, "20260101-000000F")
	if diff != "20260101-000000F_20260304-050607D" {
		t.Errorf("unexpected diff label: %s", diff)
	}

	incr := backupLabel(now, info.BackupIncr, "20260101-000000F")
	if incr != "20260101-000000F_20260304-050607I" {
		t.Errorf("unexpected incr label: %s", incr)
	}
}

func TestApplyResultsSetsFieldsByKind(t *testing.T) {
	m := &info.Manifest{
		Files: []info.FileEntry{
			{Name: "a", Size: 10},
			{Name: "b", Size: 0},
			{Name: "c", Size: 20},
		},
	}
	results := map[string]CopyResult{
		"a": {Name: "a", Kind: ResultSkip, RepoSize: 5, Checksum: "priorsum"},
		"b": {Name: "b", Kind: ResultNoop},
		"c": {Name: "c", Kind: ResultCopy, RepoSize: 18, Checksum: "newsum", PageChecksumFail: []pagechecksum.Result{}},
	}
	applyResults(m, results, "priorLabel")

	if m.Files[0].Reference != "priorLabel" || m.Files[0].Checksum != "priorsum" {
		t.Errorf("skip entry not updated correctly: %+v", m.Files[0])
	}
	if m.Files[1].Checksum != "" || m.Files[1].SizeRepo != 0 {
		t.Errorf("noop entry should stay empty: %+v", m.Files[1])
	}
	if m.Files[2].Checksum != "newsum" || m.Files[2].SizeRepo != 18 {
		t.Errorf("copy entry not updated correctly: %+v", m.Files[2])
	}
	if m.Files[2].ChecksumPage == nil || !*m.Files[2].ChecksumPage {
		t.Errorf("expected checksum-page pass to be recorded when pages were checked")
	}
}

func TestTotalSizeHelpers(t *testing.T) {
	m := &info.Manifest{Files: []info.FileEntry{
		{Size: 10, SizeRepo: 4},
		{Size: 20, SizeRepo: 8},
	}}
	if totalSize(m) != 30 {
		t.Errorf("expected total size 30, got %d", totalSize(m))
	}
	if totalRepoSize(m) != 12 {
		t.Errorf("expected total repo size 12, got %d", totalRepoSize(m))
	}
}
