package storage

import (
	"fmt"
	"path"
)

// Repo wraps one configured Driver with the repository's fixed directory
// layout (spec §6 persisted layouts): archive/<stanza>/..., backup/<stanza>/...
type Repo struct {
	Driver Driver
	Base   string // repo-path, e.g. "/var/lib/pgbackup" or an S3 prefix
}

func NewRepo(d Driver, base string) *Repo {
	return &Repo{Driver: d, Base: base}
}

func (r *Repo) join(elem ...string) string {
	parts := append([]string{r.Base}, elem...)
	return path.Join(parts...)
}

// ArchiveInfoPath returns archive.info (or its .copy) for stanza.
func (r *Repo) ArchiveInfoPath(stanza string, copy bool) string {
	name := "archive.info"
	if copy {
		name += ".copy"
	}
	return r.join("archive", stanza, name)
}

// BackupInfoPath returns backup.info (or its .copy) for stanza.
func (r *Repo) BackupInfoPath(stanza string, copy bool) string {
	name := "backup.info"
	if copy {
		name += ".copy"
	}
	return r.join("backup", stanza, name)
}

// WalSegmentPath returns the repository path for a pushed WAL segment,
// spec §6: <repo>/archive/<stanza>/<archiveId>/<16-prefix>/<24-name>-<sha1>[.<ext>].
func (r *Repo) WalSegmentPath(stanza, archiveID, segmentName, sha1Hex, ext string) string {
	prefix := segmentName[:16]
	name := fmt.Sprintf("%s-%s", segmentName, sha1Hex)
	if ext != "" {
		name += "." + ext
	}
	return r.join("archive", stanza, archiveID, prefix, name)
}

// ArchiveIDDir returns the directory holding one archiveId's segments and
// history files.
func (r *Repo) ArchiveIDDir(stanza, archiveID string) string {
	return r.join("archive", stanza, archiveID)
}

// HistoryFilePath returns the repository path of a timeline history file.
func (r *Repo) HistoryFilePath(stanza, archiveID, historyFileName string) string {
	return r.join("archive", stanza, archiveID, historyFileName)
}

// BackupDir returns the directory for one backup label.
func (r *Repo) BackupDir(stanza, label string) string {
	return r.join("backup", stanza, label)
}

// ManifestPath returns backup.manifest (or its .copy) for one backup label.
func (r *Repo) ManifestPath(stanza, label string, copy bool) string {
	name := "backup.manifest"
	if copy {
		name += ".copy"
	}
	return r.join("backup", stanza, label, name)
}

// BackupFilePath returns the repository path of one cluster file within a
// backup label, mirroring the source cluster's relative tree.
func (r *Repo) BackupFilePath(stanza, label, relPath string) string {
	return r.join("backup", stanza, label, relPath)
}

// BackupRootDir returns the directory holding one subdirectory per stanza
// with any backups, used to enumerate known stanzas for the info command.
func (r *Repo) BackupRootDir() string {
	return r.join("backup")
}

// ArchiveRootDir returns the directory holding one subdirectory per stanza
// with an archive, the archive counterpart to BackupRootDir.
func (r *Repo) ArchiveRootDir() string {
	return r.join("archive")
}

