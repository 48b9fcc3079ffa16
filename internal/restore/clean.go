package restore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/runctx"
)

// Clean prepares every manifest target's destination for restore, running
// one goroutine per target (spec §4.6 Clean phase, "per target, in
// parallel over targets"), then creates any path/link entries still
// missing.
func Clean(ctx context.Context, pgData string, m *info.Manifest, delta, preserve bool) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range m.Targets {
		t := m.Targets[i]
		g.Go(func() error {
			return cleanTarget(pgData, t, m, delta, preserve)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return createPathsAndLinks(pgData, m)
}

func targetDest(pgData string, t info.Target) string {
	if t.Name == info.PgDataTarget {
		return pgData
	}
	return t.Path
}

func cleanTarget(pgData string, t info.Target, m *info.Manifest, delta, preserve bool) error {
	dest := targetDest(pgData, t)

	fi, err := os.Lstat(dest)
	if os.IsNotExist(err) {
		return os.MkdirAll(dest, 0o750)
	}
	if err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "stat restore target %s", dest)
	}
	if !fi.IsDir() {
		return errkind.New(errkind.PathOpenError, "restore target %s is not a directory", dest)
	}
	if err := checkOwnerAndMode(dest, fi); err != nil {
		return err
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "read restore target %s", dest)
	}

	if !delta {
		keep := wellKnownKeep(preserve)
		for _, e := range entries {
			if keep[e.Name()] {
				continue
			}
			return errkind.New(errkind.PathNotEmptyError,
				"restore target %s is not empty (pass --delta to reconcile)", dest)
		}
		return nil
	}

	paths, links, files := manifestIndex(m, t.Name)

	// Stale entries are moved into a same-filesystem scratch directory
	// rather than removed one by one, so a crash partway through delta-clean
	// leaves the entries moved so far in that directory instead of
	// half-deleted. The directory is removed when this target's clean returns.
	trash, err := runctx.NewIn(dest, ".pgrepo-clean-", false)
	if err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "create clean scratch dir under %s", dest)
	}
	defer trash.Cleanup()

	return deltaClean(dest, "", paths, links, files, trash)
}

// wellKnownKeep lists destination entries tolerated inside a non-delta
// target even though the manifest does not list them (spec §4.6, "except
// the well-known backup.manifest and, if --type=preserve, recovery.conf").
func wellKnownKeep(preserve bool) map[string]bool {
	keep := map[string]bool{"backup.manifest": true}
	if preserve {
		keep["recovery.conf"] = true
	}
	return keep
}

func checkOwnerAndMode(dest string, fi os.FileInfo) error {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	euid := os.Geteuid()
	if euid != 0 && int(st.Uid) != euid {
		return errkind.New(errkind.FileOwnerError, "restore target %s is not owned by the current user", dest)
	}
	if fi.Mode().Perm()&0o700 != 0o700 {
		return errkind.New(errkind.FileOwnerError, "restore target %s is not rwx-accessible", dest)
	}
	return nil
}

// manifestIndex returns the path/link/file entries under target targetName,
// keyed by their path relative to the target root.
func manifestIndex(m *info.Manifest, targetName string) (paths map[string]info.PathEntry, links map[string]info.LinkEntry, files map[string]info.FileEntry) {
	paths = map[string]info.PathEntry{}
	links = map[string]info.LinkEntry{}
	files = map[string]info.FileEntry{}
	prefix := targetName + "/"
	for _, p := range m.Paths {
		if rel, ok := stripTarget(p.Name, targetName, prefix); ok {
			paths[rel] = p
		}
	}
	for _, l := range m.Links {
		if rel, ok := stripTarget(l.Name, targetName, prefix); ok {
			links[rel] = l
		}
	}
	for _, f := range m.Files {
		if rel, ok := stripTarget(f.Name, targetName, prefix); ok {
			files[rel] = f
		}
	}
	return paths, links, files
}

func stripTarget(name, targetName, prefix string) (string, bool) {
	if name == targetName {
		return "", true
	}
	if strings.HasPrefix(name, prefix) {
		return name[len(prefix):], true
	}
	return "", false
}

// deltaClean walks dest (targetRoot/rel) and removes every entry not named
// in the manifest, reconciling ownership and mode on everything kept (spec
// §4.6, "--delta ... remove anything not in the manifest").
func deltaClean(dest, rel string, paths map[string]info.PathEntry, links map[string]info.LinkEntry, files map[string]info.FileEntry, trash *runctx.RunCtx) error {
	dir := dest
	if rel != "" {
		dir = filepath.Join(dest, rel)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "read %s", dir)
	}
	trashName := filepath.Base(trash.Dir)
	for _, e := range entries {
		if rel == "" && e.Name() == trashName {
			continue
		}
		childRel := e.Name()
		if rel != "" {
			childRel = rel + "/" + e.Name()
		}
		full := filepath.Join(dest, childRel)

		if f, ok := files[childRel]; ok {
			reconcileOwnerMode(full, f.User, f.Group, f.Mode)
			continue
		}
		if _, ok := links[childRel]; ok {
			continue // kept as is: the destination is not checked, and createPathsAndLinks leaves an existing link alone
		}
		if p, ok := paths[childRel]; ok {
			reconcileOwnerMode(full, p.User, p.Group, p.Mode)
			if e.IsDir() {
				if err := deltaClean(dest, childRel, paths, links, files, trash); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := trash.MoveAside(full); err != nil {
			return errkind.Wrap(errkind.FileWriteError, err, "stage removal of %s", full)
		}
	}
	return nil
}

func reconcileOwnerMode(path, user, group string, mode uint32) {
	if mode != 0 {
		_ = os.Chmod(path, os.FileMode(mode))
	}
	uid, uerr := strconv.Atoi(user)
	gid, gerr := strconv.Atoi(group)
	if uerr == nil && gerr == nil {
		_ = os.Chown(path, uid, gid) // best-effort: fails silently when not running as root
	}
}

// createPathsAndLinks creates every manifest path and symlink still
// missing from the cleaned targets, skipping the synthetic pg_tblspc
// mapping (spec §4.6, "skipping the synthetic pg_tblspc mapping") since
// those links are realized from the tablespace target's own remapped
// path instead of the manifest's possibly-stale recorded destination.
func createPathsAndLinks(pgData string, m *info.Manifest) error {
	for _, p := range m.Paths {
		full := resolveManifestPath(pgData, m, p.Name)
		mode := p.Mode
		if mode == 0 {
			mode = 0o750
		}
		if err := os.MkdirAll(full, os.FileMode(mode)); err != nil {
			return errkind.Wrap(errkind.PathOpenError, err, "create path %s", full)
		}
		reconcileOwnerMode(full, p.User, p.Group, p.Mode)
	}
	for _, l := range m.Links {
		if isSyntheticTablespaceLink(l.Name) {
			continue
		}
		full := resolveManifestPath(pgData, m, l.Name)
		if _, err := os.Lstat(full); err == nil {
			continue
		}
		if err := os.Symlink(l.Destination, full); err != nil {
			return errkind.Wrap(errkind.LinkMapError, err, "create link %s", full)
		}
	}
	for _, t := range m.Targets {
		if t.Type != info.TargetLink {
			continue
		}
		full := filepath.Join(pgData, "pg_tblspc", t.TablespaceID)
		if _, err := os.Lstat(full); err == nil {
			continue
		}
		if err := os.Symlink(t.Path, full); err != nil {
			return errkind.Wrap(errkind.LinkMapError, err, "create tablespace link %s", full)
		}
	}
	return nil
}

func isSyntheticTablespaceLink(name string) bool {
	return strings.HasPrefix(name, "pg_data/pg_tblspc/")
}

// resolveManifestPath maps a manifest entry name to its destination on the
// restore host, remapping through whichever target covers it the way
// internal/backup's sourcePath resolves a manifest name back to its
// source.
func resolveManifestPath(pgData string, m *info.Manifest, name string) string {
	var best info.Target
	bestLen := -1
	for _, t := range m.Targets {
		if (name == t.Name || hasTargetPrefix(name, t.Name)) && len(t.Name) > bestLen {
			best, bestLen = t, len(t.Name)
		}
	}
	root := pgData
	if bestLen >= 0 && best.Name != info.PgDataTarget {
		root = best.Path
	}
	if bestLen < 0 {
		return filepath.Join(pgData, name)
	}
	rel := name[len(best.Name):]
	if len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	if rel == "" {
		return root
	}
	return filepath.Join(root, rel)
}

func hasTargetPrefix(name, target string) bool {
	return len(name) > len(target) && name[:len(target)] == target && name[len(target)] == '/'
}
