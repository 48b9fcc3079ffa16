package backup

import (
	"context"

	"github.com/pgrepo/pgrepo/internal/archive"
	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/lock"
	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// StanzaOptions configures the stanza lifecycle operations against one
// repository (spec §4.5, first three paragraphs).
type StanzaOptions struct {
	Stanza      string
	Repo        *storage.Repo
	ControlPath string // $PGDATA/global/pg_control
	CipherType  string
	Force       bool
	LockPath    string // directory holding <stanza>.stop / all.stop
	SpoolPath   string // directory holding the local archive-push/get spool
}

// StanzaCreate reads pg_control and, provided neither archive.info nor
// backup.info already exists and the archive/backup directories for the
// stanza are empty, writes a fresh pair of info files with a freshly
// generated cipherSubPass per file when the repository is encrypted
// (spec §4.5, "Stanza-create ... generates a new cipherSubPass per info
// file and writes both").
func StanzaCreate(ctx context.Context, opt StanzaOptions) error {
	ctl, err := pginterface.ReadControl(opt.ControlPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "read pg_control")
	}

	archivePath := opt.Repo.ArchiveInfoPath(opt.Stanza, false)
	backupPath := opt.Repo.BackupInfoPath(opt.Stanza, false)

	archiveExists, err := opt.Repo.Driver.Exists(ctx, archivePath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "check %s", archivePath)
	}
	backupExists, err := opt.Repo.Driver.Exists(ctx, backupPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "check %s", backupPath)
	}
	if archiveExists || backupExists {
		return errkind.New(errkind.PathNotEmptyError,
			"stanza %s already has an archive.info or backup.info in this repository", opt.Stanza)
	}

	archiveDir := opt.Repo.ArchiveIDDir(opt.Stanza, "")
	backupDir := opt.Repo.BackupDir(opt.Stanza, "")
	if empty, err := dirEmpty(ctx, opt.Repo.Driver, archiveDir); err != nil {
		return err
	} else if !empty {
		return errkind.New(errkind.PathNotEmptyError, "archive directory for stanza %s is not empty", opt.Stanza)
	}
	if empty, err := dirEmpty(ctx, opt.Repo.Driver, backupDir); err != nil {
		return err
	} else if !empty {
		return errkind.New(errkind.PathNotEmptyError, "backup directory for stanza %s is not empty", opt.Stanza)
	}

	first := info.PgVersion{
		ID: 1, Version: ctl.VersionString(), SystemID: int64(ctl.SystemID),
		ControlVersion: int(ctl.ControlVersion), CatalogVersion: int(ctl.CatalogVersion),
		WalSegmentSize: int(ctl.WalSegmentSize),
	}

	archive, err := info.NewArchive(opt.CipherType, first)
	if err != nil {
		return err
	}
	bi, err := info.NewInfo(opt.CipherType, first)
	if err != nil {
		return err
	}

	if err := archive.SaveTo(opt.Repo.Driver, archivePath); err != nil {
		return err
	}
	if err := bi.SaveTo(opt.Repo.Driver, backupPath); err != nil {
		return err
	}
	return nil
}

// dirEmpty treats a missing directory as empty; posix/object-store
// drivers both surface List() on an absent prefix as an empty (or
// missing-path) result rather than an error worth failing stanza-create
// over.
func dirEmpty(ctx context.Context, d storage.Driver, path string) (bool, error) {
	entries, err := d.List(ctx, path)
	if err != nil {
		if e := errkind.As(err); e.Kind == errkind.PathMissingError || e.Kind == errkind.FileMissingError {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// StanzaUpgrade appends a new PgVersion history row to both info files
// when pg_control's {systemId, controlVersion, catalogVersion} no longer
// matches the current history entry (spec §4.5, "Stanza-upgrade: when
// pg_control's {version, systemId} differs from both info files' current
// entry, appends a new history row").
func StanzaUpgrade(ctx context.Context, opt StanzaOptions) error {
	ctl, err := pginterface.ReadControl(opt.ControlPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "read pg_control")
	}

	archivePath := opt.Repo.ArchiveInfoPath(opt.Stanza, false)
	backupPath := opt.Repo.BackupInfoPath(opt.Stanza, false)

	archive, err := info.LoadArchiveFrom(opt.Repo.Driver, archivePath)
	if err != nil {
		return err
	}
	bi, err := info.LoadInfoFrom(opt.Repo.Driver, backupPath)
	if err != nil {
		return err
	}

	systemID := int64(ctl.SystemID)
	controlVersion := int(ctl.ControlVersion)
	catalogVersion := int(ctl.CatalogVersion)

	archiveCurrent := archive.History.Matches(systemID, controlVersion, catalogVersion)
	backupCurrent := bi.History.Matches(systemID, controlVersion, catalogVersion)
	if archiveCurrent && backupCurrent {
		return nil // already upgraded to this cluster identity; nothing to do
	}

	cur, _ := archive.History.Current()
	next := info.PgVersion{
		ID: cur.ID + 1, Version: ctl.VersionString(), SystemID: systemID,
		ControlVersion: controlVersion, CatalogVersion: catalogVersion,
		WalSegmentSize: int(ctl.WalSegmentSize),
	}
	archive.History = append(archive.History, next)
	bi.History = append(bi.History, next)

	if err := archive.SaveTo(opt.Repo.Driver, archivePath); err != nil {
		return err
	}
	return bi.SaveTo(opt.Repo.Driver, backupPath)
}

// StanzaDelete removes a stanza's archive and backup directories. It
// refuses when the primary is running unless a stop file exists for the
// stanza (or --all) or Force is set (spec §4.5, "Stanza-delete: requires
// either a stop file or --force; refuses if the primary database is
// running unless forced").
func StanzaDelete(ctx context.Context, opt StanzaOptions, primaryRunning bool) error {
	if primaryRunning && !opt.Force {
		if err := lock.CheckStop(opt.LockPath, opt.Stanza); err == nil {
			return errkind.New(errkind.PgRunningError,
				"stanza %s: primary is running; create a stop file or pass --force", opt.Stanza)
		}
	}

	archiveDir := opt.Repo.ArchiveIDDir(opt.Stanza, "")
	backupDir := opt.Repo.BackupDir(opt.Stanza, "")
	if err := storage.RemoveTree(ctx, opt.Repo.Driver, archiveDir); err != nil {
		return err
	}
	if err := storage.RemoveTree(ctx, opt.Repo.Driver, backupDir); err != nil {
		return err
	}
	archiveInfoDir := opt.Repo.ArchiveInfoPath(opt.Stanza, false)
	backupInfoDir := opt.Repo.BackupInfoPath(opt.Stanza, false)
	_ = opt.Repo.Driver.Remove(ctx, archiveInfoDir)
	_ = opt.Repo.Driver.Remove(ctx, archiveInfoDir+".copy")
	_ = opt.Repo.Driver.Remove(ctx, backupInfoDir)
	_ = opt.Repo.Driver.Remove(ctx, backupInfoDir+".copy")

	if opt.SpoolPath != "" {
		for _, dir := range []archive.Direction{archive.Out, archive.In} {
			sp := archive.Spool{Root: opt.SpoolPath, Stanza: opt.Stanza, Dir: dir}
			if err := sp.Purge(); err != nil {
				return errkind.Wrap(errkind.FileWriteError, err, "purge spool for stanza %s", opt.Stanza)
			}
		}
	}
	return nil
}
