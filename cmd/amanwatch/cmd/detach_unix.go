//go:build !windows

package cmd

import (
	"os/exec"
	"syscall"
)

// detach starts the daemon in its own session, away from the terminal.
func detach(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
