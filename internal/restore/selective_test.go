package restore

import (
	"testing"

	"github.com/pgrepo/pgrepo/internal/info"
)

func TestSelectiveSetNoIncludeRestoresEverything(t *testing.T) {
	m := &info.Manifest{
		DBs:   []info.Database{{OID: 16401, Name: "app"}},
		Files: []info.FileEntry{{Name: "pg_data/base/16401/1"}},
	}
	zf, zm, err := SelectiveSet(m, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(zf) != 0 || len(zm) != 0 {
		t.Error("expected no zero-filled files when --db-include is unset")
	}
}

func TestSelectiveSetZeroFillsExcludedDatabase(t *testing.T) {
	m := &info.Manifest{
		DBs: []info.Database{
			{OID: 13, Name: "postgres"},
			{OID: 16401, Name: "keep"},
			{OID: 16500, Name: "drop"},
		},
		Files: []info.FileEntry{
			{Name: "pg_data/base/16401/2000"},
			{Name: "pg_data/base/16500/2001"},
			{Name: "pg_data/base/16500/pg_filenode.map"},
			{Name: "pg_data/base/13/1259"}, // system catalog, always included
		},
	}
	zf, zm, err := SelectiveSet(m, []string{"keep"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !zf["pg_data/base/16500/2001"] || !zf["pg_data/base/16500/pg_filenode.map"] {
		t.Error("expected the excluded database's files to be zero-filled")
	}
	if zf["pg_data/base/16401/2000"] || zf["pg_data/base/13/1259"] {
		t.Error("expected the included and system-catalog databases to stay untouched")
	}
	if !zm["pg_data/base/16500/pg_filenode.map"] {
		t.Error("expected pg_filenode.map to be marked for extra zeroing")
	}
}

func TestSelectiveSetUnknownNameErrors(t *testing.T) {
	m := &info.Manifest{DBs: []info.Database{{OID: 16401, Name: "app"}}}
	if _, _, err := SelectiveSet(m, []string{"nonexistent"}, nil); err == nil {
		t.Fatal("expected an error for an unknown --db-include name")
	}
}

func TestSelectiveSetExcludeZeroFillsNamedDatabase(t *testing.T) {
	m := &info.Manifest{
		DBs: []info.Database{
			{OID: 13, Name: "postgres"},
			{OID: 16401, Name: "keep"},
			{OID: 16500, Name: "drop"},
		},
		Files: []info.FileEntry{
			{Name: "pg_data/base/16401/2000"},
			{Name: "pg_data/base/16500/2001"},
		},
	}
	zf, _, err := SelectiveSet(m, nil, []string{"drop"})
	if err != nil {
		t.Fatal(err)
	}
	if !zf["pg_data/base/16500/2001"] {
		t.Error("expected the excluded database's files to be zero-filled")
	}
	if zf["pg_data/base/16401/2000"] {
		t.Error("expected the kept database to stay untouched")
	}
}

func TestSelectiveSetRejectsIncludeAndExcludeTogether(t *testing.T) {
	m := &info.Manifest{DBs: []info.Database{{OID: 16401, Name: "app"}}}
	if _, _, err := SelectiveSet(m, []string{"app"}, []string{"app"}); err == nil {
		t.Fatal("expected an error when both --db-include and --db-exclude are set")
	}
}

func TestSelectiveSetMatchesTablespaceFiles(t *testing.T) {
	m := &info.Manifest{
		DBs: []info.Database{
			{OID: 16401, Name: "keep"},
			{OID: 16500, Name: "drop"},
		},
		Files: []info.FileEntry{
			{Name: "pg_tblspc/20001/PG_16_202307071/16500/3000"},
		},
	}
	zf, _, err := SelectiveSet(m, []string{"keep"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !zf["pg_tblspc/20001/PG_16_202307071/16500/3000"] {
		t.Error("expected a tablespace file belonging to an excluded database to be zero-filled")
	}
}
