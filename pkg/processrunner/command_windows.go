//go:build windows

package processrunner

import (
	goerrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"

	"golang.org/x/sys/windows"
)

// buildCommand runs the batch file through cmd.exe without a console window
func buildCommand(script string, args []string) *exec.Cmd {
	shell := os.Getenv("ComSpec")
	if shell == "" {
		shell = "cmd.exe"
	}

	line := `"` + script + `"`
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}

	cmd := exec.Command(shell)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       fmt.Sprintf(`"%s" /d /c "%s"`, shell, line),
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
	return cmd
}

// ensureElevated fails fast when the scripts would run without administrator rights
func ensureElevated() error {
	if windows.GetCurrentProcessToken().IsElevated() {
		return nil
	}
	return errors.NewPermissionError("elevation required: the process must run as administrator", nil)
}

func isElevationError(err error) bool {
	return goerrors.Is(err, windows.ERROR_ELEVATION_REQUIRED)
}

// killProcessTree also takes down children cmd.exe spawned, falling back to killing cmd.exe alone
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}
	if err := kill.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
