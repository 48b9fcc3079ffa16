package info

import (
	"crypto/rand"
	"encoding/base64"
	"sort"
	"strconv"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// Archive is the parsed archive.info file: the WAL cipher sub-passphrase
// (if the repository is encrypted) and the PgVersion history under which
// WAL segments are namespaced (spec §4.2, "archive.info keeps the WAL
// cipherSubPass plus the PgVersion history").
type Archive struct {
	CipherType    string `json:"cipher-type,omitempty"`
	CipherSubPass string `json:"cipher-pass,omitempty"`
	History       History
}

// NewArchive creates a fresh archive.info for stanza-create, deriving a
// random WAL sub-passphrase when cipherType is non-empty (spec §4.2, "a
// repository cipher wraps each stanza's WAL/backup sub-passphrase so
// rotating the repository passphrase never requires re-encrypting
// existing WAL or backups").
func NewArchive(cipherType string, first PgVersion) (*Archive, error) {
	a := &Archive{CipherType: cipherType, History: History{first}}
	if cipherType != "" {
		pass, err := randomSubPass()
		if err != nil {
			return nil, err
		}
		a.CipherSubPass = pass
	}
	return a, nil
}

func randomSubPass() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", errkind.Wrap(errkind.CryptoError, err, "generate cipher sub-passphrase")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// LoadArchive reads archive.info (with .copy fallback) from path.
func LoadArchive(path string) (*Archive, error) {
	doc, _, err := LoadDualCopy(path)
	if err != nil {
		return nil, err
	}
	return archiveFromDoc(doc)
}

// LoadArchiveFrom reads archive.info through a storage.Driver, for repos
// that are not the local filesystem (spec §4.2 across posix/sftp/s3/...).
func LoadArchiveFrom(d storage.Driver, path string) (*Archive, error) {
	doc, _, err := LoadDualCopyFrom(d, path)
	if err != nil {
		return nil, err
	}
	return archiveFromDoc(doc)
}

func archiveFromDoc(doc *Doc) (*Archive, error) {
	a := &Archive{}
	if _, err := doc.Get("cipher", "cipher-type", &a.CipherType); err != nil {
		return nil, err
	}
	if _, err := doc.Get("cipher", "cipher-pass", &a.CipherSubPass); err != nil {
		return nil, err
	}
	hist := map[string]PgVersion{}
	if _, err := doc.Get("db", "history", &hist); err != nil {
		return nil, err
	}
	// history is stored keyed by id string for stable JSON ordering; decode
	// back into id-ordered slice form.
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
		a.History = append(a.History, byID[id])
	}
	return a, nil
}

func (a *Archive) toDoc() *Doc {
	d := NewDoc()
	if a.CipherType != "" {
		d.Set("cipher", "cipher-type", a.CipherType)
		d.Set("cipher", "cipher-pass", a.CipherSubPass)
	}
	hist := map[string]PgVersion{}
	for _, v := range a.History {
		hist[strconv.Itoa(v.ID)] = v
	}
	d.Set("db", "history", hist)
	return d
}

// Save writes archive.info and archive.info.copy to path.
func (a *Archive) Save(path string) error {
	return SaveDualCopy(path, a.toDoc())
}

// SaveTo writes archive.info and archive.info.copy through a storage.Driver.
func (a *Archive) SaveTo(d storage.Driver, path string) error {
	return SaveDualCopyTo(d, path, a.toDoc())
}
