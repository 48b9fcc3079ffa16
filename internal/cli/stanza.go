package cli

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/backup"
	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/process"
)

var stanzaFlags = &struct {
	ControlPath string
	CipherType  string
	Force       bool
	All         bool
	SpoolPath   string
}{}

var stanzaCreateCmd = &cobra.Command{
	Use:   "stanza-create",
	Short: "Initialize archive.info and backup.info for a new stanza",
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		opt, err := buildStanzaOptions(cmd, stanza)
		if err != nil {
			return err
		}
		return backup.StanzaCreate(cmd.Context(), opt)
	},
}

var stanzaUpgradeCmd = &cobra.Command{
	Use:   "stanza-upgrade",
	Short: "Append a new PostgreSQL version history row after a major upgrade",
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		opt, err := buildStanzaOptions(cmd, stanza)
		if err != nil {
			return err
		}
		return backup.StanzaUpgrade(cmd.Context(), opt)
	},
}

var stanzaDeleteCmd = &cobra.Command{
	Use:   "stanza-delete",
	Short: "Remove a stanza's archive and backup directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		opt, err := buildStanzaOptions(cmd, stanza)
		if err != nil {
			return err
		}
		return backup.StanzaDelete(cmd.Context(), opt, primaryIsRunning(cmd.Context()))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{stanzaCreateCmd, stanzaUpgradeCmd, stanzaDeleteCmd} {
		f := cmd.Flags()
		f.StringVar(&stanzaFlags.ControlPath, "control-path", "", "path to pg_control (default <pg1-path>/global/pg_control)")
		f.StringVar(&stanzaFlags.CipherType, "cipher-type", "", "repository cipher, empty disables encryption")
		f.BoolVar(&stanzaFlags.Force, "force", false, "stanza-delete: proceed even if the primary appears to be running")
		f.StringVar(&stanzaFlags.SpoolPath, "spool-path", "/var/spool/pgrepo", "directory for the async push/get spool (stanza-delete: also purged)")
	}
}

func buildStanzaOptions(cmd *cobra.Command, stanza string) (backup.StanzaOptions, error) {
	repo, err := buildRepo(cmd)
	if err != nil {
		return backup.StanzaOptions{}, err
	}
	controlPath := resolveString(cmd, "control-path", stanzaFlags.ControlPath, "")
	if controlPath == "" {
		controlPath = global.PGData + "/global/pg_control"
	}
	return backup.StanzaOptions{
		Stanza:      stanza,
		Repo:        repo,
		ControlPath: controlPath,
		CipherType:  resolveString(cmd, "cipher-type", stanzaFlags.CipherType, ""),
		Force:       resolveBool(cmd, "force", stanzaFlags.Force, false),
		LockPath:    lockPath(cmd),
		SpoolPath:   resolveString(cmd, "spool-path", stanzaFlags.SpoolPath, "/var/spool/pgrepo"),
	}, nil
}

// primaryIsRunning decides whether stanza-delete's running-primary guard
// applies. It tries the cheap route first, pg_isready against pg1-host/
// pg1-port logged through process.RunLogged, and falls back to a real
// connection attempt only when pg_isready never ran at all (not installed),
// distinguished from "ran and reported not ready" by checking for an
// *exec.ExitError, the only case RunLogged's ExitCode is actually pg_isready's
// own. Either route treats an unreachable primary as "not running", matching
// stanza-delete's own tolerance for that case.
func primaryIsRunning(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	res := process.RunLogged(ctx, "pg_isready",
		"-h", global.PGHost, "-p", strconv.Itoa(global.PGPort), "-U", global.PGUser)
	var exitErr *exec.ExitError
	if res.Err == nil || errors.As(res.Err, &exitErr) {
		return res.ExitCode == 0
	}

	pool, err := pginterface.Connect(ctx, "", 1)
	if err != nil {
		return false
	}
	pool.Close()
	return true
}
