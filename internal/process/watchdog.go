package process

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// KillChildrenOnCancel spawns a goroutine that, once ctx is canceled, sends
// SIGTERM to every direct child of the current process and, after grace,
// SIGKILLs whatever is still alive. internal/cli's Execute installs this on the
// signal-aware root context so a SIGHUP/SIGINT/SIGTERM doesn't leave a
// detached archive-push worker (internal/process.Detach) running after the
// foreground command has already exited (spec §5).
func KillChildrenOnCancel(ctx context.Context, grace time.Duration) {
	go func() {
		<-ctx.Done()
		pid := os.Getpid()
		slog.Warn("watchdog: context canceled, terminating children", "pid", pid)

		out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
		if err != nil {
			slog.Warn("watchdog: pgrep", "err", err)
			return
		}
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line == "" {
				continue
			}
			childPID, _ := strconv.Atoi(line)
			slog.Info("watchdog: sending SIGTERM", "child", childPID)
			if err := syscall.Kill(childPID, syscall.SIGTERM); err != nil {
				slog.Warn("watchdog: SIGTERM failed", "pid", childPID, "err", err)
			}
		}
		time.Sleep(grace)
		// force kill remaining
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line == "" {
				continue
			}
			childPID, _ := strconv.Atoi(line)
			if err := syscall.Kill(childPID, syscall.SIGKILL); err != nil {
				slog.Warn("watchdog: SIGKILL failed", "pid", childPID, "err", err)
			}
		}
	}()
}
