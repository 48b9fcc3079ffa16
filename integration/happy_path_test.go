//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgrepo/pgrepo/integration/util"
)

// TestHappyPath drives a full stanza-create -> backup -> restore cycle
// against a real PostgreSQL container through the pgrepo binary, the
// same one-pass smoke test the teacher ran for its clone command,
// retargeted at this module's backup/restore engine instead.
func TestHappyPath(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	composeFile := filepath.Join("compose.yml")
	project := "pgrepo"
	teardown, err := util.StartCompose(ctx, composeFile, project)
	require.NoError(err)
	defer teardown()

	primary := fmt.Sprintf("%s-pg-primary-1", project)
	require.NoError(util.WaitPostgresReady(ctx, primary, 1*time.Minute))

	pgrepo := func(args ...string) ([]byte, error) {
		full := append([]string{"exec", "-u", "postgres", primary, "pgrepo"}, args...)
		return exec.CommandContext(ctx, "docker", full...).CombinedOutput()
	}

	repoArgs := []string{
		"--stanza", "main",
		"--repo1-path", "/var/lib/pgrepo/repo",
		"--repo1-type", "posix",
		"--pg1-path", "/var/lib/postgresql/data",
		"--pg1-host", "pg-primary",
		"--pg1-user", "postgres",
	}

	out, err := pgrepo(append([]string{"stanza-create"}, repoArgs...)...)
	require.NoErrorf(err, "stanza-create failed: %s", string(out))

	out, err = pgrepo(append([]string{"backup", "--type", "full"}, repoArgs...)...)
	require.NoErrorf(err, "backup failed: %s", string(out))

	out, err = pgrepo(append([]string{"info", "--output", "json"}, repoArgs...)...)
	require.NoErrorf(err, "info failed: %s", string(out))
	require.Contains(string(out), "\"stanza\"")

	out, err = pgrepo(append([]string{"verify"}, repoArgs...)...)
	require.NoErrorf(err, "verify failed: %s", string(out))

	stop := exec.CommandContext(ctx, "docker", "exec", primary, "pg_ctl", "-D", "/var/lib/postgresql/data", "stop", "-m", "fast")
	require.NoError(stop.Run())

	out, err = pgrepo(append([]string{"restore", "--delta", "--force"}, repoArgs...)...)
	require.NoErrorf(err, "restore failed: %s", string(out))

	start := exec.CommandContext(ctx, "docker", "exec", "-u", "postgres", primary, "pg_ctl", "-D", "/var/lib/postgresql/data", "start")
	require.NoError(start.Run())
	require.NoError(util.WaitPostgresReady(ctx, primary, 1*time.Minute))

	cat := exec.CommandContext(ctx, "docker", "exec", primary, "cat", "/var/lib/postgresql/data/PG_VERSION")
	pgv, err := cat.Output()
	require.NoError(err)
	require.Contains(string(pgv), "16")
}
