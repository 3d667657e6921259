//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows. Run without --background there,
// or wrap the process in a service manager such as NSSM.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning reports whether a process with the given PID is alive.
// Windows has no signal-0 probe, so this relies on FindProcess plus the
// error from a Signal attempt. Imperfect, but sufficient for PID file
// bookkeeping.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(os.Kill)
	if err == nil {
		return true
	}
	return err != os.ErrProcessDone
}

// stopProcess kills the process. Windows offers no graceful SIGTERM.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
