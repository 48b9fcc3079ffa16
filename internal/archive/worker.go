package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/lock"
	"github.com/pgrepo/pgrepo/internal/pginterface"
)

// RunPushWorker is the detached async-push worker (spec §4.4.1 step 3):
// it holds the archive lock for its whole run, projects the set of
// segments that should be in the spool from anchor, sweeps anything else
// out, and pushes each remaining segment to every configured repository
// in parallel.
func RunPushWorker(ctx context.Context, cfg Config, anchorSegment string) error {
	l := lock.New(cfg.LockPath, cfg.Stanza, lock.Archive)
	acquired, err := l.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		// Another worker is already running; nothing to do.
		return nil
	}
	defer l.Unlock()

	anchor, err := pginterface.ParseWalSegment(anchorSegment)
	if err != nil {
		return errkind.Wrap(errkind.FormatError, err, "parse anchor segment")
	}
	queueSize := pginterface.QueueSize(cfg.QueueMaxBytes, cfg.WalSegmentSize)
	wanted := pginterface.ProjectQueue(anchor, queueSize, cfg.WalSegmentSize, cfg.PgVersionNum)

	sp := Spool{Root: cfg.SpoolRoot, Stanza: cfg.Stanza, Dir: Out}
	if err := sweepSpool(sp, wanted); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(wanted))
	for i, seg := range wanted {
		segName := seg.String()
		path := sp.SegmentPath(segName)
		if _, err := os.Stat(path); err != nil {
			continue // not staged (only the anchor is guaranteed present)
		}
		wg.Add(1)
		go func(i int, segName, path string) {
			defer wg.Done()
			errs[i] = pushSegmentToAllRepos(ctx, cfg, path, segName, sp)
		}(i, segName, path)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			segName := wanted[i].String()
			ek := errkind.As(err)
			sp.WriteError(segName, ek.Kind, ek.Msg)
			continue
		}
	}
	return nil
}

func pushSegmentToAllRepos(ctx context.Context, cfg Config, path, segName string, sp Spool) error {
	for _, r := range cfg.Repos {
		if err := pushOne(ctx, cfg, r, path, segName); err != nil {
			return err
		}
	}
	sp.WriteOK(segName, "")
	os.Remove(path)
	return nil
}

// sweepSpool removes status files and any segment payload not present in
// wanted (spec §4.4.1 step 3, "sweeps the spool directory").
func sweepSpool(sp Spool, wanted []pginterface.WalSegment) error {
	keep := map[string]bool{}
	for _, w := range wanted {
		keep[w.String()] = true
	}
	entries, err := os.ReadDir(filepath.Dir(sp.SegmentPath("x")))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.PathOpenError, err, "read spool dir")
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case hasSuffix(name, ".ok"), hasSuffix(name, ".error"):
			os.Remove(filepath.Join(filepath.Dir(sp.SegmentPath("x")), name))
		case !keep[name]:
			os.Remove(filepath.Join(filepath.Dir(sp.SegmentPath("x")), name))
		}
	}
	return nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// RunGetWorker is the detached async-get worker (spec §4.4.2): resolve
// segment across repositories (optionally through timeline history,
// spec §4.4.3) and stage it into the "in" spool with a status file.
func RunGetWorker(ctx context.Context, cfg Config, segment string) error {
	l := lock.New(cfg.LockPath, cfg.Stanza, lock.Archive)
	acquired, err := l.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer l.Unlock()

	sp := Spool{Root: cfg.SpoolRoot, Stanza: cfg.Stanza, Dir: In}
	if err := sp.EnsureDir(); err != nil {
		return err
	}

	for _, r := range cfg.Repos {
		found, path, ext, err := findSegment(ctx, r, cfg.Stanza, cfg.ArchiveID, segment)
		if err != nil {
			sp.WriteError(segment, errkind.As(err).Kind, err.Error())
			return err
		}
		if !found {
			continue
		}
		if err := fetchOne(ctx, r, cfg, path, ext, sp.SegmentPath(segment)); err != nil {
			sp.WriteError(segment, errkind.As(err).Kind, err.Error())
			return err
		}
		return sp.WriteOK(segment, "")
	}
	return sp.WriteNotFoundOK(segment)
}
