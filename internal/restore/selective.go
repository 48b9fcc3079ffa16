package restore

import (
	"regexp"
	"strconv"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/pginterface"
)

var (
	baseDBRe = regexp.MustCompile(`^pg_data/base/(\d+)/`)
	tsDBRe   = regexp.MustCompile(`^pg_tblspc/\d+/[^/]+/(\d+)/`)
	filenodeMapRe = regexp.MustCompile(`/pg_filenode\.map$`)
)

// SelectiveSet resolves --db-include/--db-exclude against the manifest's DB
// list and returns the set of manifest file names selective restore must
// zero-fill instead of copying, plus the subset additionally needing
// pg_filenode.map zeroed so the excluded database is un-startable (spec
// §4.6 Selective restore). Passing both is rejected: include names the
// only databases kept, exclude names the only databases dropped, and
// mixing the two leaves no unambiguous reading of "everything else".
// Empty include and exclude restores everything.
func SelectiveSet(m *info.Manifest, include, exclude []string) (zeroFiles map[string]bool, zeroFilenode map[string]bool, err error) {
	zeroFiles = map[string]bool{}
	zeroFilenode = map[string]bool{}
	if len(include) == 0 && len(exclude) == 0 {
		return zeroFiles, zeroFilenode, nil
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, nil, errkind.New(errkind.OptionInvalidError, "--db-include and --db-exclude are mutually exclusive")
	}

	byName := map[string]info.Database{}
	for _, db := range m.DBs {
		byName[db.Name] = db
	}

	excluded := map[int64]bool{}
	if len(include) > 0 {
		included := map[int64]bool{}
		for _, name := range include {
			db, ok := byName[name]
			if !ok {
				return nil, nil, errkind.New(errkind.OptionInvalidValueError,
					"--db-include %q does not match any database in the manifest", name)
			}
			included[db.OID] = true
		}
		for _, db := range m.DBs {
			if db.OID < pginterface.PgUserObjectMinID {
				continue // system catalog database, always included
			}
			if !included[db.OID] {
				excluded[db.OID] = true
			}
		}
	} else {
		for _, name := range exclude {
			db, ok := byName[name]
			if !ok {
				return nil, nil, errkind.New(errkind.OptionInvalidValueError,
					"--db-exclude %q does not match any database in the manifest", name)
			}
			if db.OID < pginterface.PgUserObjectMinID {
				return nil, nil, errkind.New(errkind.OptionInvalidValueError,
					"--db-exclude %q is a system catalog database and cannot be excluded", name)
			}
			excluded[db.OID] = true
		}
	}

	for _, f := range m.Files {
		oid, ok := fileDBOid(f.Name)
		if !ok || !excluded[oid] {
			continue
		}
		zeroFiles[f.Name] = true
		if filenodeMapRe.MatchString(f.Name) {
			zeroFilenode[f.Name] = true
		}
	}
	return zeroFiles, zeroFilenode, nil
}

func fileDBOid(name string) (int64, bool) {
	mm := baseDBRe.FindStringSubmatch(name)
	if mm == nil {
		mm = tsDBRe.FindStringSubmatch(name)
	}
	if mm == nil {
		return 0, false
	}
	oid, err := strconv.ParseInt(mm[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return oid, true
}
