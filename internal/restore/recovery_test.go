package restore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteRecoveryConfigPre12WritesRecoveryConf(t *testing.T) {
	pgData := t.TempDir()
	opt := RecoveryOptions{Type: TypeTime, Target: "2026-01-01 00:00:00", ArchiveGetCmd: "pgrepo archive-get %f %p"}
	if err := WriteRecoveryConfig(pgData, 110000, opt); err != nil {
		t.Fatalf("WriteRecoveryConfig: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(pgData, "recovery.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "recovery_target_time") {
		t.Error("expected recovery_target_time in recovery.conf")
	}
	if !strings.Contains(string(data), "restore_command") {
		t.Error("expected restore_command in recovery.conf")
	}
}

func TestWriteRecoveryConfigPost12WritesSignalAndAutoConf(t *testing.T) {
	pgData := t.TempDir()
	opt := RecoveryOptions{Type: TypeName, Target: "before_migration", ArchiveGetCmd: "pgrepo archive-get %f %p"}
	if err := WriteRecoveryConfig(pgData, 160000, opt); err != nil {
		t.Fatalf("WriteRecoveryConfig: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pgData, "recovery.signal")); err != nil {
		t.Error("expected recovery.signal to be created")
	}
	data, err := os.ReadFile(filepath.Join(pgData, "postgresql.auto.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "recovery_target_name") {
		t.Error("expected recovery_target_name in postgresql.auto.conf")
	}
}

func TestWriteRecoveryConfigStandbyWritesStandbySignal(t *testing.T) {
	pgData := t.TempDir()
	opt := RecoveryOptions{Type: TypeDefault, Standby: true, ArchiveGetCmd: "pgrepo archive-get %f %p"}
	if err := WriteRecoveryConfig(pgData, 160000, opt); err != nil {
		t.Fatalf("WriteRecoveryConfig: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pgData, "standby.signal")); err != nil {
		t.Error("expected standby.signal to be created")
	}
	if _, err := os.Stat(filepath.Join(pgData, "recovery.signal")); !os.IsNotExist(err) {
		t.Error("expected recovery.signal NOT to be created in standby mode")
	}
}

func TestWriteRecoveryConfigPreserveLeavesExistingUntouched(t *testing.T) {
	pgData := t.TempDir()
	existing := []byte("# hand-edited\n")
	if err := os.WriteFile(filepath.Join(pgData, "recovery.conf"), existing, 0o640); err != nil {
		t.Fatal(err)
	}
	if err := WriteRecoveryConfig(pgData, 110000, RecoveryOptions{Type: TypePreserve}); err != nil {
		t.Fatalf("WriteRecoveryConfig: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(pgData, "recovery.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(existing) {
		t.Error("expected --type=preserve to leave recovery.conf untouched")
	}
}
