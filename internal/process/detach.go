package process

import (
	"os"
	"os/exec"
)

// Detach re-execs argv0 with args as a background process: stdio closed,
// new session via Setsid, parent does not wait on it. archive-push uses it
// to hand a segment off to the async worker and return control to
// PostgreSQL's archive_command immediately (spec §4.4.1 async push). It
// forks once; there is no second fork, so the worker stays a direct child
// of the caller until the caller exits.
func Detach(argv0 string, args []string, env []string) (*os.Process, error) {
	cmd := exec.Command(argv0, args...)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setDetachedAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	// The parent never waits on a detached child; releasing it avoids
	// leaving a zombie once it exits on its own.
	if err := cmd.Process.Release(); err != nil {
		return cmd.Process, err
	}
	return cmd.Process, nil
}
