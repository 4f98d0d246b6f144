//go:build !windows

package processrunner

import (
	goerrors "errors"
	"os"
	"os/exec"
	"syscall"
)

// buildCommand runs the script through /bin/sh in its own process group
func buildCommand(script string, args []string) *exec.Cmd {
	cmd := exec.Command("/bin/sh", append([]string{script}, args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// ensureElevated is a no-op here; a spawn refused by the OS still surfaces as a permission error
func ensureElevated() error {
	return nil
}

func isElevationError(err error) bool {
	return false
}

func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err == nil || goerrors.Is(err, syscall.ESRCH) {
		return nil
	}
	// Fall back to the direct child when the group is gone or not ours
	if killErr := cmd.Process.Kill(); killErr != nil && !goerrors.Is(killErr, os.ErrProcessDone) {
		return killErr
	}
	return nil
}
