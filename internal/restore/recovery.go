package restore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

// RecoveryType mirrors --type (spec §4.6 Recovery configuration).
type RecoveryType string

const (
	TypeDefault   RecoveryType = "default"
	TypeImmediate RecoveryType = "immediate"
	TypeName      RecoveryType = "name"
	TypeXid       RecoveryType = "xid"
	TypeTime      RecoveryType = "time"
	TypeLSN       RecoveryType = "lsn"
	TypePreserve  RecoveryType = "preserve"
)

// RecoveryOptions configures the restore_command and --target* options the
// engine writes into the cluster's recovery configuration (spec §4.6).
type RecoveryOptions struct {
	Type            RecoveryType
	Target          string // value for whichever recovery_target_* opt.Type selects
	TargetTimeline  string
	TargetAction    string
	TargetInclusive *bool
	ArchiveGetCmd   string // restore_command, e.g. "pgrepo archive-get %f %p"
	Standby         bool   // write standby.signal instead of recovery.signal (pg >= 12)
}

// WriteRecoveryConfig writes the PostgreSQL-version-appropriate recovery
// configuration: recovery.conf for pgVersion < 120000, or
// postgresql.auto.conf plus recovery.signal/standby.signal for >= 120000
// (spec §4.6, "recovery.conf for ≤11, postgresql.auto.conf +
// recovery.signal/standby.signal for ≥12"). --type=preserve leaves
// whatever configuration is already in pgData untouched.
func WriteRecoveryConfig(pgData string, pgVersion int, opt RecoveryOptions) error {
	if opt.Type == TypePreserve {
		return nil
	}

	lines := recoveryLines(opt)
	if pgVersion < 120000 {
		return writeRecoveryConf(pgData, lines)
	}
	return writeAutoConfAndSignal(pgData, lines, opt)
}

func recoveryLines(opt RecoveryOptions) []string {
	var lines []string
	if opt.ArchiveGetCmd != "" {
		lines = append(lines, fmt.Sprintf("restore_command = '%s'", opt.ArchiveGetCmd))
	}
	switch opt.Type {
	case TypeTime:
		lines = append(lines, fmt.Sprintf("recovery_target_time = '%s'", opt.Target))
	case TypeXid:
		lines = append(lines, fmt.Sprintf("recovery_target_xid = '%s'", opt.Target))
	case TypeName:
		lines = append(lines, fmt.Sprintf("recovery_target_name = '%s'", opt.Target))
	case TypeLSN:
		lines = append(lines, fmt.Sprintf("recovery_target_lsn = '%s'", opt.Target))
	case TypeImmediate:
		lines = append(lines, "recovery_target = 'immediate'")
	}
	if opt.TargetTimeline != "" {
		lines = append(lines, fmt.Sprintf("recovery_target_timeline = '%s'", opt.TargetTimeline))
	}
	if opt.TargetAction != "" {
		lines = append(lines, fmt.Sprintf("recovery_target_action = '%s'", opt.TargetAction))
	}
	if opt.TargetInclusive != nil {
		lines = append(lines, fmt.Sprintf("recovery_target_inclusive = '%t'", *opt.TargetInclusive))
	}
	return lines
}

func writeRecoveryConf(pgData string, lines []string) error {
	path := filepath.Join(pgData, "recovery.conf")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	content += "standby_mode = 'on'\n"
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "write %s", path)
	}
	return nil
}

func writeAutoConfAndSignal(pgData string, lines []string, opt RecoveryOptions) error {
	path := filepath.Join(pgData, "postgresql.auto.conf")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.FileReadError, err, "read %s", path)
	}
	content := string(existing)
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "write %s", path)
	}

	signal := "recovery.signal"
	if opt.Standby {
		signal = "standby.signal"
	}
	return writeSignalFile(pgData, signal)
}

func writeSignalFile(pgData, name string) error {
	path := filepath.Join(pgData, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "create %s", path)
	}
	return f.Close()
}
