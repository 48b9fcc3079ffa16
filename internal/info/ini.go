// Package info implements the repository's three info-file kinds
// (archive.info, backup.info, backup.manifest) sharing one dual-copy,
// checksum-verified ini-like loader (spec §4.2).
package info

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // spec mandates SHA1 for info-file checksums
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// Doc is one parsed info/manifest file: an ordered list of sections, each
// an ordered map of key to raw JSON value, exactly as written on disk.
type Doc struct {
	order    []string
	sections map[string]map[string]json.RawMessage
}

func NewDoc() *Doc {
	return &Doc{sections: map[string]map[string]json.RawMessage{}}
}

func (d *Doc) ensureSection(name string) map[string]json.RawMessage {
	s, ok := d.sections[name]
	if !ok {
		s = map[string]json.RawMessage{}
		d.sections[name] = s
		d.order = append(d.order, name)
	}
	return s
}

// Set stores value (marshaled to JSON) under section/key.
func (d *Doc) Set(section, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("info: marshal %s.%s: %w", section, key, err)
	}
	d.ensureSection(section)[key] = raw
	return nil
}

// Get unmarshals section/key into out; returns false if absent.
func (d *Doc) Get(section, key string, out any) (bool, error) {
	s, ok := d.sections[section]
	if !ok {
		return false, nil
	}
	raw, ok := s[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("info: unmarshal %s.%s: %w", section, key, err)
	}
	return true, nil
}

// Section returns the raw key->JSON map for section, or nil.
func (d *Doc) Section(name string) map[string]json.RawMessage { return d.sections[name] }

// Encode renders the document as the on-disk ini-like text, appending the
// final [backrest] section with backrest-checksum computed over every
// preceding byte (spec §6 File formats).
func (d *Doc) Encode() []byte {
	var buf bytes.Buffer
	for _, name := range d.order {
		fmt.Fprintf(&buf, "[%s]\n", name)
		keys := make([]string, 0, len(d.sections[name]))
		for k := range d.sections[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, "%s=%s\n", k, d.sections[name][k])
		}
	}
	sum := sha1.Sum(buf.Bytes()) //nolint:gosec
	fmt.Fprintf(&buf, "[backrest]\nbackrest-checksum=\"%s\"\n", hex.EncodeToString(sum[:]))
	return buf.Bytes()
}

// Decode parses raw bytes into a Doc and verifies the trailing checksum
// line matches a SHA1 over everything preceding it.
func Decode(raw []byte) (*Doc, error) {
	d := NewDoc()
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var body bytes.Buffer
	var checksum string
	curSection := ""
	inBackrest := false

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			curSection = trimmed[1 : len(trimmed)-1]
			inBackrest = curSection == "backrest"
			if !inBackrest {
				body.WriteString(line)
				body.WriteByte('\n')
			}
			continue
		}
		if inBackrest {
			if strings.HasPrefix(trimmed, "backrest-checksum=") {
				v := strings.TrimPrefix(trimmed, "backrest-checksum=")
				checksum = strings.Trim(v, `"`)
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')

		eq := strings.Index(trimmed, "=")
		if eq < 0 {
			return nil, errkind.New(errkind.FormatError, "malformed line %q", line)
		}
		key := trimmed[:eq]
		val := trimmed[eq+1:]
		d.ensureSection(curSection)[key] = json.RawMessage(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.FileReadError, err, "scan info file")
	}
	if checksum == "" {
		return nil, errkind.New(errkind.ChecksumError, "missing backrest-checksum section")
	}
	sum := sha1.Sum(body.Bytes()) //nolint:gosec
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, errkind.New(errkind.ChecksumError, "checksum mismatch: file corrupt")
	}
	return d, nil
}

// LoadDualCopy reads primary, falling back to the ".copy" path on any
// error (missing, format, or checksum), per spec §4.2 step 1. It returns
// which copy satisfied the read so callers can re-materialize the other.
func LoadDualCopy(primaryPath string) (doc *Doc, usedCopy bool, err error) {
	return loadDualCopyVia(nil, primaryPath)
}

// LoadDualCopyFrom reads via a storage.Driver instead of the local
// filesystem, for non-posix repositories.
func LoadDualCopyFrom(d storage.Driver, primaryPath string) (*Doc, bool, error) {
	return loadDualCopyVia(d, primaryPath)
}
