package process

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tunnelctl/pkg/logging"
)

// killPatterns are the command-line signatures of every process shape this
// tool spawns. KillAll sweeps by signature rather than by handle so it also
// reaps processes orphaned by a previous supervisor crash.
var killPatterns = []string{
	"kubectl port-forward",
	"socat TCP-LISTEN",
	"tunnelctl relay",
}

// For mocking in tests
var pgrepOutput = func(pattern string) ([]byte, error) {
	return exec.Command("pgrep", "-f", pattern).Output()
}

// KillAll force-terminates every running process matching a known spawn
// signature, independent of internal bookkeeping. Best effort: failures to
// signal individual PIDs are logged and skipped.
func (c *Controller) KillAll() {
	myPID := os.Getpid()
	for _, pattern := range killPatterns {
		pids, err := findProcesses(pattern)
		if err != nil {
			logging.Warn(subsystem, "Signature sweep for %q failed: %v", pattern, err)
			continue
		}
		for _, pid := range pids {
			if pid == myPID {
				continue
			}
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
				logging.Debug(subsystem, "Could not kill PID %d (%q): %v", pid, pattern, err)
				continue
			}
			logging.Info(subsystem, "Force-killed PID %d matching %q", pid, pattern)
		}
	}

	// Drop all handles; the processes behind them are gone or about to be.
	c.mu.Lock()
	c.procs = make(map[string]map[Role]*record)
	c.errorMarks = make(map[string]time.Time)
	c.mu.Unlock()
}

// findProcesses returns the PIDs whose full command line matches pattern.
func findProcesses(pattern string) ([]int, error) {
	output, err := pgrepOutput(pattern)
	if err != nil {
		// pgrep exits 1 when nothing matches; that is not an error here.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			logging.Warn(subsystem, "Failed to parse PID from pgrep output: %q", line)
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
