//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// killGroup runs cmd in its own process group and makes context
// cancellation kill the whole group, so npx, node, workers and the browser
// all exit with it and none keeps writing to the report file.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
