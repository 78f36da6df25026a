//go:build windows
// +build windows

package sam3d

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup hides the console window. Windows has no POSIX
// process groups; cancellation falls back to killing the direct child.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
