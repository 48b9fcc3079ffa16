package info

import (
	"sort"
	"strconv"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// BackupType distinguishes full, differential, and incremental backups
// (spec §3, backup label suffix "F"/"D"/"I").
type BackupType string

const (
	BackupFull  BackupType = "full"
	BackupDiff  BackupType = "diff"
	BackupIncr  BackupType = "incr"
)

// Backup is one completed-backup entry in backup.info (spec §4.2,
// "backup.info keeps ... the completed-backups list").
type Backup struct {
	Label         string     `json:"label"`
	Type          BackupType `json:"type"`
	Prior         string     `json:"prior,omitempty"`
	ArchiveIDStr  string     `json:"archive-id"`
	Timestamp     time.Time  `json:"timestamp-stop"`
	TimestampStrt time.Time  `json:"timestamp-start"`
	LsnStart      string     `json:"lsn-start"`
	LsnStop       string     `json:"lsn-stop"`
	WalStart      string     `json:"archive-start"`
	WalStop       string     `json:"archive-stop"`
	SizeDB        int64      `json:"size"`
	SizeRepo      int64      `json:"repo-size"`
	Online        bool       `json:"online"`
	Error         bool       `json:"error"`
	ErrorList     []string   `json:"error-list,omitempty"`
}

// Info is the parsed backup.info file: the backup cipher sub-pass, the
// PgVersion history, and the ordered set of completed backups (spec
// §4.2, §4.5).
type Info struct {
	CipherType    string `json:"cipher-type,omitempty"`
	CipherSubPass string `json:"cipher-pass,omitempty"`
	History       History
	Backups       map[string]Backup
}

// NewInfo creates a fresh backup.info for stanza-create.
func NewInfo(cipherType string, first PgVersion) (*Info, error) {
	bi := &Info{History: History{first}, Backups: map[string]Backup{}}
	if cipherType != "" {
		pass, err := randomSubPass()
		if err != nil {
			return nil, err
		}
		bi.CipherType = cipherType
		bi.CipherSubPass = pass
	}
	return bi, nil
}

// Add inserts or replaces a completed backup record.
func (bi *Info) Add(b Backup) { bi.Backups[b.Label] = b }

// Remove deletes a backup record by label (used by expire).
func (bi *Info) Remove(label string) { delete(bi.Backups, label) }

// Sorted returns backups ordered oldest-to-newest by stop timestamp,
// the order the expiry and restore-selection algorithms walk (spec
// §4.5, §4.6 "most recent backup whose stop time precedes the target").
func (bi *Info) Sorted() []Backup {
	out := make([]Backup, 0, len(bi.Backups))
	for _, b := range bi.Backups {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Latest returns the most recently completed backup, or false if none.
func (bi *Info) Latest() (Backup, bool) {
	s := bi.Sorted()
	if len(s) == 0 {
		return Backup{}, false
	}
	return s[len(s)-1], true
}

// Chain returns label and every ancestor it depends on (self first,
// oldest full ancestor last) by following Prior links — the set that
// must all be present for a restore of label to succeed (spec §4.5,
// "a differential or incremental backup is only valid so long as its
// full ancestor and every intervening backup remain in the repository").
func (bi *Info) Chain(label string) ([]Backup, error) {
	var chain []Backup
	cur := label
	seen := map[string]bool{}
	for cur != "" {
		if seen[cur] {
			return nil, errkind.New(errkind.BackupSetInvalidError, "backup chain cycle at %s", cur)
		}
		seen[cur] = true
		b, ok := bi.Backups[cur]
		if !ok {
			return nil, errkind.New(errkind.BackupMismatchError, "backup %s missing from backup.info", cur)
		}
		chain = append(chain, b)
		cur = b.Prior
	}
	return chain, nil
}

// LoadInfo reads backup.info (with .copy fallback) from path.
func LoadInfo(path string) (*Info, error) {
	doc, _, err := LoadDualCopy(path)
	if err != nil {
		return nil, err
	}
	return infoFromDoc(doc)
}

// LoadInfoFrom reads backup.info through a storage.Driver.
func LoadInfoFrom(d storage.Driver, path string) (*Info, error) {
	doc, _, err := LoadDualCopyFrom(d, path)
	if err != nil {
		return nil, err
	}
	return infoFromDoc(doc)
}

func infoFromDoc(doc *Doc) (*Info, error) {
	bi := &Info{Backups: map[string]Backup{}}
	if _, err := doc.Get("cipher", "cipher-type", &bi.CipherType); err != nil {
		return nil, err
	}
	if _, err := doc.Get("cipher", "cipher-pass", &bi.CipherSubPass); err != nil {
		return nil, err
	}
	hist := map[string]PgVersion{}
	if _, err := doc.Get("db", "history", &hist); err != nil {
		return nil, err
	}
	var ids []int
	byID := map[int]PgVersion{}
	for _, v := range hist {
		byID[v.ID] = v
	}
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		bi.History = append(bi.History, byID[id])
	}
	backups := map[string]Backup{}
	if _, err := doc.Get("backup", "current", &backups); err != nil {
		return nil, err
	}
	bi.Backups = backups
	return bi, nil
}

func (bi *Info) toDoc() *Doc {
	d := NewDoc()
	if bi.CipherType != "" {
		d.Set("cipher", "cipher-type", bi.CipherType)
		d.Set("cipher", "cipher-pass", bi.CipherSubPass)
	}
	hist := map[string]PgVersion{}
	for _, v := range bi.History {
		hist[strconv.Itoa(v.ID)] = v
	}
	d.Set("db", "history", hist)
	d.Set("backup", "current", bi.Backups)
	return d
}

// Save writes backup.info and backup.info.copy to path.
func (bi *Info) Save(path string) error {
	return SaveDualCopy(path, bi.toDoc())
}

// SaveTo writes backup.info and backup.info.copy through a storage.Driver.
func (bi *Info) SaveTo(d storage.Driver, path string) error {
	return SaveDualCopyTo(d, path, bi.toDoc())
}
