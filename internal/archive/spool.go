// Package archive implements the WAL archive-push/archive-get protocol
// and its async spool worker (spec §4.4).
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/util/fs"
)

// Direction is which half of the spool queue a segment belongs to.
type Direction string

const (
	Out Direction = "out" // archive-push: segments pending copy to the repository
	In  Direction = "in"  // archive-get: segments fetched from the repository
)

// Spool resolves paths under spool/archive/<stanza>/{out|in}/ (spec §3,
// "Queue files (archive spool)").
type Spool struct {
	Root   string // e.g. <spool-path>
	Stanza string
	Dir    Direction
}

func (s Spool) base() string {
	return filepath.Join(s.Root, "archive", s.Stanza, string(s.Dir))
}

// SegmentPath returns the path of the segment payload itself.
func (s Spool) SegmentPath(segment string) string {
	return filepath.Join(s.base(), segment)
}

// OkPath returns the path of the segment's success status file.
func (s Spool) OkPath(segment string) string {
	return filepath.Join(s.base(), segment+".ok")
}

// ErrorPath returns the path of the segment's failure status file.
func (s Spool) ErrorPath(segment string) string {
	return filepath.Join(s.base(), segment+".error")
}

// EnsureDir creates the spool directory if missing.
func (s Spool) EnsureDir() error {
	if err := os.MkdirAll(s.base(), 0o750); err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "create spool dir %s", s.base())
	}
	return nil
}

// Purge clears every queued segment and status file left behind in this
// half of the spool without removing the directory itself, so a later
// stanza-create can reuse the same spool-path (stanza-delete's cleanup,
// spec §4.5).
func (s Spool) Purge() error {
	if _, err := os.Stat(s.base()); os.IsNotExist(err) {
		return nil
	}
	return fs.CleanupDir(s.base())
}

// Status is the outcome recorded by the worker for one segment.
type Status struct {
	OK      bool
	Warning string
	Code    errkind.Kind
	Message string
}

// WriteOK writes the segment's .ok status file holding warning (an empty
// line when there is none). A segment confirmed absent is marked with
// WriteNotFoundOK instead, whose "0" first line ReadStatus reports as
// notFound.
func (s Spool) WriteOK(segment, warning string) error {
	return os.WriteFile(s.OkPath(segment), []byte(warning+"\n"), 0o640)
}

// WriteNotFoundOK marks segment as a confirmed-absent WAL file.
func (s Spool) WriteNotFoundOK(segment string) error {
	return os.WriteFile(s.OkPath(segment), []byte("0\n"), 0o640)
}

// WriteError writes the segment's .error status file as "<code>\n<message>",
// where code is the kind's process exit code.
func (s Spool) WriteError(segment string, code errkind.Kind, message string) error {
	content := fmt.Sprintf("%d\n%s\n", code.ExitCode(), message)
	return os.WriteFile(s.ErrorPath(segment), []byte(content), 0o640)
}

// ReadStatus reads whichever status file exists for segment, if any.
func (s Spool) ReadStatus(segment string) (Status, bool, error) {
	if raw, err := os.ReadFile(s.OkPath(segment)); err == nil {
		warn := string(raw)
		notFound := warn == "0\n"
		return Status{OK: true, Warning: warn}, notFound, nil
	} else if !os.IsNotExist(err) {
		return Status{}, false, err
	}
	if raw, err := os.ReadFile(s.ErrorPath(segment)); err == nil {
		lines := splitTwo(strings.TrimSuffix(string(raw), "\n"))
		code := errkind.RuntimeError
		if n, convErr := strconv.Atoi(strings.TrimSpace(lines[0])); convErr == nil {
			for k := errkind.AssertError; k <= errkind.DiskSpaceError; k++ {
				if k.ExitCode() == n {
					code = k
					break
				}
			}
		}
		return Status{OK: false, Code: code, Message: lines[1]}, false, nil
	} else if !os.IsNotExist(err) {
		return Status{}, false, err
	}
	return Status{}, false, os.ErrNotExist
}

// ClearStatus removes both possible status files for segment, ignoring
// missing-file errors.
func (s Spool) ClearStatus(segment string) {
	os.Remove(s.OkPath(segment))
	os.Remove(s.ErrorPath(segment))
}

func splitTwo(s string) [2]string {
	for i, c := range s {
		if c == '\n' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}
