package cli

import (
	"testing"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

func TestRequireStanza(t *testing.T) {
	orig := global.Stanza
	defer func() { global.Stanza = orig }()

	global.Stanza = ""
	if _, err := requireStanza(); err == nil {
		t.Fatal("expected an error for an empty stanza")
	} else if errkind.As(err).Kind != errkind.ParamRequiredError {
		t.Fatalf("got kind %v, want ParamRequiredError", errkind.As(err).Kind)
	}

	global.Stanza = "main"
	got, err := requireStanza()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "main" {
		t.Fatalf("got %q, want %q", got, "main")
	}
}

func TestBuildRepoUnknownType(t *testing.T) {
	cmd := archivePushCmd
	orig := global.RepoType
	defer func() { global.RepoType = orig }()
	global.RepoType = "carrier-pigeon"

	if _, err := buildRepo(cmd); err == nil {
		t.Fatal("expected an error for an unknown repo1-type")
	} else if errkind.As(err).Kind != errkind.OptionInvalidValueError {
		t.Fatalf("got kind %v, want OptionInvalidValueError", errkind.As(err).Kind)
	}
}

func TestDSN(t *testing.T) {
	cmd := backupCmd
	orig := global.PGHost
	defer func() { global.PGHost = orig }()

	global.PGHost = ""
	if got := dsn(cmd); got != "" {
		t.Fatalf("empty host should yield an empty dsn for libpq env fallback, got %q", got)
	}

	global.PGHost = "pg-primary"
	global.PGUser = "postgres"
	global.PGPort = 5432
	global.PGDatabase = "postgres"
	want := "postgres://postgres@pg-primary:5432/postgres"
	if got := dsn(cmd); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
