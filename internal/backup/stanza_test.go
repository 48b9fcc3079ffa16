package backup

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
)

// writeFakeControl crafts a minimal pg_control file carrying the fields
// pginterface.ReadControl scans for: system id, control/catalog version,
// checkpoint LSN, and the walSegmentSize power-of-two dword.
func writeFakeControl(t *testing.T, path string, systemID uint64, controlVersion, catalogVersion uint32) {
	t.Helper()
	buf := make([]byte, 512)
	binary.LittleEndian.PutUint64(buf[0:], systemID)
	binary.LittleEndian.PutUint32(buf[8:], controlVersion)
	binary.LittleEndian.PutUint32(buf[12:], catalogVersion)
	binary.LittleEndian.PutUint64(buf[16:], 0) // checkpoint LSN
	binary.LittleEndian.PutUint32(buf[24:], 16<<20)
	if err := os.WriteFile(path, buf, 0o640); err != nil {
		t.Fatalf("write fake pg_control: %v", err)
	}
}

func TestStanzaCreateThenUpgrade(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	controlPath := filepath.Join(t.TempDir(), "pg_control")
	writeFakeControl(t, controlPath, 111, 1300, 202)

	opt := StanzaOptions{Stanza: "main", Repo: repo, ControlPath: controlPath}
	if err := StanzaCreate(context.Background(), opt); err != nil {
		t.Fatalf("StanzaCreate: %v", err)
	}

	if err := StanzaCreate(context.Background(), opt); err == nil {
		t.Fatal("expected second StanzaCreate to fail on existing info files")
	}

	archive, err := info.LoadArchiveFrom(repo.Driver, repo.ArchiveInfoPath("main", false))
	if err != nil {
		t.Fatalf("LoadArchiveFrom: %v", err)
	}
	if len(archive.History) != 1 || archive.History[0].SystemID != 111 {
		t.Fatalf("unexpected archive history: %+v", archive.History)
	}

	writeFakeControl(t, controlPath, 111, 1300, 999) // catalog version bump
	if err := StanzaUpgrade(context.Background(), opt); err != nil {
		t.Fatalf("StanzaUpgrade: %v", err)
	}
	archive, err = info.LoadArchiveFrom(repo.Driver, repo.ArchiveInfoPath("main", false))
	if err != nil {
		t.Fatalf("LoadArchiveFrom after upgrade: %v", err)
	}
	if len(archive.History) != 2 {
		t.Fatalf("expected 2 history rows after upgrade, got %d", len(archive.History))
	}

	if err := StanzaUpgrade(context.Background(), opt); err != nil {
		t.Fatalf("StanzaUpgrade should be a no-op when already current: %v", err)
	}
	archive, _ = info.LoadArchiveFrom(repo.Driver, repo.ArchiveInfoPath("main", false))
	if len(archive.History) != 2 {
		t.Fatalf("expected upgrade no-op to leave history at 2 rows, got %d", len(archive.History))
	}
}

func TestStanzaDeleteRequiresStopOrForce(t *testing.T) {
	repoDir := t.TempDir()
	repo := storage.NewRepo(posix.New(), repoDir)
	controlPath := filepath.Join(t.TempDir(), "pg_control")
	writeFakeControl(t, controlPath, 222, 1300, 5)
	lockDir := t.TempDir()

	opt := StanzaOptions{Stanza: "main", Repo: repo, ControlPath: controlPath, LockPath: lockDir}
	if err := StanzaCreate(context.Background(), opt); err != nil {
		t.Fatalf("StanzaCreate: %v", err)
	}

	if err := StanzaDelete(context.Background(), opt, true); err == nil {
		t.Fatal("expected StanzaDelete to refuse while primary running without stop/force")
	} else if errkind.As(err).Kind != errkind.PgRunningError {
		t.Fatalf("expected PgRunningError, got %v", err)
	}

	opt.Force = true
	if err := StanzaDelete(context.Background(), opt, true); err != nil {
		t.Fatalf("StanzaDelete with Force: %v", err)
	}
	if ok, _ := repo.Driver.Exists(context.Background(), repo.ArchiveInfoPath("main", false)); ok {
		t.Error("expected archive.info to be removed")
	}
}
