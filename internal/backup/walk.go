package backup

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/pginterface"
)

// BuildManifest walks pgData and every tablespace's link target,
// producing the target/path/link/file sections of a fresh manifest
// (spec §4.3). Checksums, repo sizes, and dedup references are filled in
// later by the dispatch phase once each file has actually been copied.
func BuildManifest(pgData string, tablespaces []pginterface.Tablespace) (*info.Manifest, error) {
	m := &info.Manifest{
		Targets: []info.Target{{Name: info.PgDataTarget, Type: info.TargetPath, Path: pgData}},
	}

	if err := walkTarget(m, info.PgDataTarget, pgData); err != nil {
		return nil, err
	}

	for _, ts := range tablespaces {
		name := "pg_tblspc/" + strconv.FormatUint(uint64(ts.Oid), 10)
		m.Targets = append(m.Targets, info.Target{
			Name: name, Type: info.TargetLink,
			TablespaceID: strconv.FormatUint(uint64(ts.Oid), 10), TablespaceName: ts.Name,
			Path: ts.Location,
		})
		m.Links = append(m.Links, info.LinkEntry{
			Name:        "pg_data/pg_tblspc/" + strconv.FormatUint(uint64(ts.Oid), 10),
			Destination: ts.Location,
		})
		if err := walkTarget(m, name, ts.Location); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func walkTarget(m *info.Manifest, targetName, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errkind.Wrap(errkind.FileReadError, err, "walk %s", path)
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return errkind.Wrap(errkind.FormatError, relErr, "relativize %s", path)
		}
		if rel == "." {
			return nil
		}
		// Tablespace subtrees are reached through pg_tblspc symlinks, which
		// the pg_data walk already stops at (symlinks aren't followed by
		// WalkDir); skip re-descending the tablespace's own target root is
		// unnecessary since each tablespace target walks independently.
		name := targetName + "/" + filepath.ToSlash(rel)

		fi, err := d.Info()
		if err != nil {
			return errkind.Wrap(errkind.FileReadError, err, "stat %s", path)
		}
		user, group := ownerOf(fi)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			dest, err := os.Readlink(path)
			if err != nil {
				return errkind.Wrap(errkind.FileReadError, err, "readlink %s", path)
			}
			m.Links = append(m.Links, info.LinkEntry{Name: name, User: user, Group: group, Destination: dest})
			if d.IsDir() {
				return filepath.SkipDir // symlinked dirs are separate targets, not walked here
			}
		case d.IsDir():
			m.Paths = append(m.Paths, info.PathEntry{Name: name, User: user, Group: group, Mode: uint32(fi.Mode().Perm())})
		default:
			m.Files = append(m.Files, info.FileEntry{
				Name: name, User: user, Group: group, Mode: uint32(fi.Mode().Perm()),
				Size: fi.Size(), Timestamp: fi.ModTime(),
			})
		}
		return nil
	})
}

func ownerOf(fi fs.FileInfo) (user, group string) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	return strconv.FormatUint(uint64(st.Uid), 10), strconv.FormatUint(uint64(st.Gid), 10)
}

// IsSameIncremental reports whether file and candidate are equal under
// the dedup rule of spec §4.3: (size, timestamp, checksum) equality.
func IsSameIncremental(file, candidate info.FileEntry) bool {
	return file.Size == candidate.Size &&
		file.Timestamp.Equal(candidate.Timestamp) &&
		file.Checksum != "" && file.Checksum == candidate.Checksum
}
