//go:build !windows

package cli

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the child into its own session so it survives
// the parent's terminal closing.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// isProcessRunning reports whether a process with the given PID is alive.
// Signal 0 performs the liveness check without delivering anything.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// stopProcess asks the daemon to shut down gracefully.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
