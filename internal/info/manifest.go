package info

import (
	"sort"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// TargetType distinguishes a plain data-directory path from a symlink
// target (spec §3, ManifestTarget "type ∈ {path, link}").
type TargetType string

const (
	TargetPath TargetType = "path"
	TargetLink TargetType = "link"
)

// Target is one entry in the manifest's target list: a data-directory
// location or tablespace symlink the restore must reproduce.
type Target struct {
	Name           string     `json:"name"`
	Type           TargetType `json:"type"`
	TablespaceID   string     `json:"tablespace-id,omitempty"`
	TablespaceName string     `json:"tablespace-name,omitempty"`
	Path           string     `json:"path"`
	File           string     `json:"file,omitempty"`
}

// PathEntry is a directory entry under a target, carrying ownership and
// mode captured at walk time.
type PathEntry struct {
	Name  string `json:"name"`
	User  string `json:"user"`
	Group string `json:"group"`
	Mode  uint32 `json:"mode"`
}

// LinkEntry is a symlink entry under a target.
type LinkEntry struct {
	Name        string `json:"name"`
	User        string `json:"user"`
	Group       string `json:"group"`
	Destination string `json:"destination"`
}

// FileEntry is one captured file: size, checksum, and dedup/bundling
// metadata (spec §4.3).
type FileEntry struct {
	Name          string    `json:"name"`
	User          string    `json:"user"`
	Group         string    `json:"group"`
	Mode          uint32    `json:"mode"`
	Size          int64     `json:"size"`
	SizeRepo      int64     `json:"size-repo"`
	Timestamp     time.Time `json:"timestamp"`
	Checksum      string    `json:"checksum"`
	ChecksumPage  *bool     `json:"checksum-page,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	BundleID      int       `json:"bundle-id,omitempty"`
	BundleOffset  int64     `json:"bundle-offset,omitempty"`
	BlockIncrRef  []int64   `json:"block-incr-ref,omitempty"`
}

// Database is one entry in the manifest's db list, consulted by
// selective restore (spec §4.6, PG_USER_OBJECT_MIN_ID).
type Database struct {
	OID           int64  `json:"oid"`
	Name          string `json:"name"`
	LastSystemOID int64  `json:"last-system-oid"`
}

// Manifest is the per-backup file enumerating every path, link, and file
// to capture or restore, plus the backup's own metadata (spec §3, §4.3).
type Manifest struct {
	Label         string
	Type          BackupType
	Prior         string
	PgID          string
	TimestampStrt time.Time
	Timestamp     time.Time
	WalStart      string
	WalStop       string
	OptionCompress string
	OptionOnline   bool

	Targets []Target
	Paths   []PathEntry
	Links   []LinkEntry
	Files   []FileEntry
	DBs     []Database

	CipherSubPass string
}

// PgDataTarget is the fixed name of the target covering the cluster's
// main data directory (spec §4.3, "exactly one target has name = pg_data").
const PgDataTarget = "pg_data"

// Validate checks the structural invariants from spec §3/§4.3: every
// path/link/file name is covered by exactly one target, and exactly one
// target is pg_data.
func (m *Manifest) Validate() error {
	var pgData int
	targetNames := make([]string, 0, len(m.Targets))
	for _, t := range m.Targets {
		if t.Name == PgDataTarget {
			pgData++
		}
		targetNames = append(targetNames, t.Name)
	}
	if pgData != 1 {
		return errkind.New(errkind.AssertError, "manifest must have exactly one pg_data target, found %d", pgData)
	}

	check := func(name string) error {
		covered := 0
		for _, t := range targetNames {
			if name == t || hasPrefixSlash(name, t) {
				covered++
			}
		}
		if covered != 1 {
			return errkind.New(errkind.AssertError,
				"manifest entry %q covered by %d targets, want exactly 1", name, covered)
		}
		return nil
	}
	seen := map[string]bool{}
	for _, p := range m.Paths {
		if seen[p.Name] {
			return errkind.New(errkind.AssertError, "duplicate path name %q", p.Name)
		}
		seen[p.Name] = true
		if err := check(p.Name); err != nil {
			return err
		}
	}
	for _, l := range m.Links {
		if seen[l.Name] {
			return errkind.New(errkind.AssertError, "duplicate link name %q", l.Name)
		}
		seen[l.Name] = true
		if err := check(l.Name); err != nil {
			return err
		}
	}
	for _, f := range m.Files {
		if seen[f.Name] {
			return errkind.New(errkind.AssertError, "duplicate file name %q", f.Name)
		}
		seen[f.Name] = true
		if err := check(f.Name); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefixSlash(name, target string) bool {
	if len(name) <= len(target) {
		return false
	}
	return name[:len(target)] == target && name[len(target)] == '/'
}

// ValidateForRestore additionally checks that the manifest's own label
// matches the backup selected for restore, guarding against a renamed
// backup directory (spec §4.3).
func (m *Manifest) ValidateForRestore(selectedLabel string) error {
	if m.Label != selectedLabel {
		return errkind.New(errkind.BackupMismatchError,
			"manifest label %q does not match selected backup %q", m.Label, selectedLabel)
	}
	return m.Validate()
}

// FindTarget returns the target with the given name.
func (m *Manifest) FindTarget(name string) (Target, bool) {
	for _, t := range m.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// RemapTarget rewrites a target's Path in place (manifest map, spec §4.3).
func (m *Manifest) RemapTarget(name, newPath string) error {
	for i := range m.Targets {
		if m.Targets[i].Name == name {
			m.Targets[i].Path = newPath
			return nil
		}
	}
	return errkind.New(errkind.LinkMapError, "no target named %q to remap", name)
}

// SortedFiles returns Files ordered by descending size, the order the
// job-dispatch best-fit distributor expects (spec §5).
func (m *Manifest) SortedFiles() []FileEntry {
	out := append([]FileEntry(nil), m.Files...)
	sort.Slice(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}

func manifestFromDoc(doc *Doc) (*Manifest, error) {
	m := &Manifest{}
	fields := []struct {
		key string
		out any
	}{
		{"label", &m.Label}, {"type", &m.Type}, {"prior", &m.Prior}, {"pg-id", &m.PgID},
		{"timestamp-start", &m.TimestampStrt}, {"timestamp-stop", &m.Timestamp},
		{"archive-start", &m.WalStart}, {"archive-stop", &m.WalStop},
		{"option-compress", &m.OptionCompress}, {"option-online", &m.OptionOnline},
	}
	for _, f := range fields {
		if _, err := doc.Get("backup", f.key, f.out); err != nil {
			return nil, err
		}
	}
	if _, err := doc.Get("cipher", "cipher-pass", &m.CipherSubPass); err != nil {
		return nil, err
	}
	if _, err := doc.Get("target", "list", &m.Targets); err != nil {
		return nil, err
	}
	if _, err := doc.Get("path", "list", &m.Paths); err != nil {
		return nil, err
	}
	if _, err := doc.Get("link", "list", &m.Links); err != nil {
		return nil, err
	}
	if _, err := doc.Get("file", "list", &m.Files); err != nil {
		return nil, err
	}
	if _, err := doc.Get("db", "list", &m.DBs); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) toDoc() *Doc {
	d := NewDoc()
	d.Set("backup", "label", m.Label)
	d.Set("backup", "type", m.Type)
	d.Set("backup", "prior", m.Prior)
	d.Set("backup", "pg-id", m.PgID)
	d.Set("backup", "timestamp-start", m.TimestampStrt)
	d.Set("backup", "timestamp-stop", m.Timestamp)
	d.Set("backup", "archive-start", m.WalStart)
	d.Set("backup", "archive-stop", m.WalStop)
	d.Set("backup", "option-compress", m.OptionCompress)
	d.Set("backup", "option-online", m.OptionOnline)
	if m.CipherSubPass != "" {
		d.Set("cipher", "cipher-pass", m.CipherSubPass)
	}
	d.Set("target", "list", m.Targets)
	d.Set("path", "list", m.Paths)
	d.Set("link", "list", m.Links)
	d.Set("file", "list", m.Files)
	d.Set("db", "list", m.DBs)
	return d
}

// LoadManifest reads a backup.manifest (with .copy fallback) from path.
func LoadManifest(path string) (*Manifest, error) {
	doc, _, err := LoadDualCopy(path)
	if err != nil {
		return nil, err
	}
	return manifestFromDoc(doc)
}

// Save writes backup.manifest and backup.manifest.copy to path.
func (m *Manifest) Save(path string) error {
	return SaveDualCopy(path, m.toDoc())
}

// LoadManifestFrom reads a backup.manifest through a storage.Driver.
func LoadManifestFrom(d storage.Driver, path string) (*Manifest, error) {
	doc, _, err := LoadDualCopyFrom(d, path)
	if err != nil {
		return nil, err
	}
	return manifestFromDoc(doc)
}

// SaveTo writes backup.manifest and backup.manifest.copy through a
// storage.Driver.
func (m *Manifest) SaveTo(d storage.Driver, path string) error {
	return SaveDualCopyTo(d, path, m.toDoc())
}
