// Package lock implements the two lock types pgrepo takes per stanza
// (archive, backup) plus the stop-file mechanism, generalizing the
// teacher's single-PGDATA flock wrapper.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/util/fs"
)

// Type distinguishes the two lock domains a stanza can hold independently:
// one archive-push/get worker set and one backup/restore/verify/expire
// operation can run concurrently, but never two of the same type.
type Type string

const (
	Archive Type = "archive"
	Backup  Type = "backup"
)

// FileLock wraps gofrs/flock for one stanza+type under lockPath.
type FileLock struct {
	fl     *flock.Flock
	path   string
	stanza string
	typ    Type
}

// New returns the lock for <lockPath>/<stanza>-<type>.lock (spec §6
// persisted layouts).
func New(lockPath, stanza string, typ Type) *FileLock {
	name := filepath.Join(lockPath, fmt.Sprintf("%s-%s.lock", stanza, typ))
	return &FileLock{fl: flock.New(name), path: name, stanza: stanza, typ: typ}
}

// TryLock attempts a non-blocking lock, returning an errkind.LockAcquireError
// wrapping the immediate cause when the file cannot even be opened (as
// opposed to simply being held by another process, which returns ok=false
// with a nil error per flock's contract). lockPath is created on demand, so
// a fresh host doesn't need it provisioned ahead of the first command.
func (l *FileLock) TryLock() (bool, error) {
	if err := fs.MkdirP(filepath.Dir(l.path)); err != nil {
		return false, errkind.Wrap(errkind.PathOpenError, err, "could not create lock directory for %s", l.path)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, errkind.Wrap(errkind.LockAcquireError, err, "could not acquire lock on %s", l.path)
	}
	return ok, nil
}

// Unlock releases the OS-level lock and best-effort removes the lock file
// so it doesn't linger once no process holds it.
func (l *FileLock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return err
	}
	_ = os.Remove(l.path)
	return nil
}

// StopFilePath returns the path of the stop file that would halt stanza
// (or "all" stanzas when stanza == "all").
func StopFilePath(lockPath, stanza string) string {
	return filepath.Join(lockPath, stanza+".stop")
}

// Stop creates the stop file for stanza, causing new invocations against it
// (or every stanza, when stanza == "all") to refuse to start until Resume
// removes it.
func Stop(lockPath, stanza string) error {
	if err := fs.MkdirP(lockPath); err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "could not create lock directory %s", lockPath)
	}
	path := StopFilePath(lockPath, stanza)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "could not create stop file %s", path)
	}
	return f.Close()
}

// Resume removes the stop file for stanza, re-permitting operations. It is
// not an error to resume a stanza with no active stop file.
func Resume(lockPath, stanza string) error {
	path := StopFilePath(lockPath, stanza)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.FileWriteError, err, "could not remove stop file %s", path)
	}
	return nil
}

// CheckStop returns a StopError if either the per-stanza or the "all" stop
// file exists, to be consulted at the top of every command before any lock
// is acquired.
func CheckStop(lockPath, stanza string) error {
	for _, s := range []string{stanza, "all"} {
		if _, err := os.Stat(StopFilePath(lockPath, s)); err == nil {
			return errkind.New(errkind.StopError, "stop file exists for '%s'", s).
				WithHint("remove the stop file or run the 'start' command")
		}
	}
	return nil
}
