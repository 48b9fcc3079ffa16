//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

func setDetachedAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
