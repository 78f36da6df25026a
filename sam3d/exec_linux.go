//go:build linux
// +build linux

package sam3d

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group and makes
// context cancellation signal the whole group, so the Python inference
// processes the pipeline script spawns die with it instead of surviving a
// timeout holding the GPU.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
