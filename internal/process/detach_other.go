//go:build !linux

package process

import "os/exec"

func setDetachedAttrs(cmd *exec.Cmd) {}
