package process

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"tunnelctl/pkg/logging"
)

const subsystem = "ProcessController"

// termGracePeriod is how long a process gets to exit after SIGTERM before it
// is force-killed.
const termGracePeriod = 500 * time.Millisecond

// record tracks one spawned subprocess and its output-draining goroutine.
type record struct {
	cmd   *exec.Cmd
	alive bool
	// done is closed by the waiter goroutine once cmd.Wait returns.
	done chan struct{}
}

// Controller owns all spawned tunnel processes. The process table and the
// error-mark map are mutated only behind its mutex, so state transitions per
// (tunnel, role) are serialized.
type Controller struct {
	mu         sync.Mutex
	procs      map[string]map[Role]*record
	errorMarks map[string]time.Time
	classifier Classifier

	// now is replaceable in tests.
	now func() time.Time
}

// NewController creates a controller with the default keyword classifier.
func NewController() *Controller {
	return &Controller{
		procs:      make(map[string]map[Role]*record),
		errorMarks: make(map[string]time.Time),
		classifier: NewKeywordClassifier(),
		now:        time.Now,
	}
}

// Start launches the command described by spec for the given tunnel and role
// and begins draining its combined output line by line. Any existing process
// for the same (tunnel, role) is killed first, so at most one is ever live.
// Returns the PID on success, or a *SpawnError if the launch failed.
func (c *Controller) Start(tunnelID string, role Role, spec SpawnSpec) (int, error) {
	c.killRole(tunnelID, role)

	cmd := exec.Command(spec.Path, spec.Args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		logging.Error(subsystem, err, "Failed to spawn %s process for tunnel %s: %s", role, tunnelID, spec)
		return 0, &SpawnError{Path: spec.Path, Err: err}
	}

	rec := &record{cmd: cmd, alive: true, done: make(chan struct{})}
	c.mu.Lock()
	if c.procs[tunnelID] == nil {
		c.procs[tunnelID] = make(map[Role]*record)
	}
	c.procs[tunnelID][role] = rec
	c.mu.Unlock()

	pid := cmd.Process.Pid
	logging.Debug(subsystem, "Spawned %s process for tunnel %s (PID %d): %s", role, tunnelID, pid, spec)

	go c.drainOutput(tunnelID, role, pr)
	go func() {
		err := cmd.Wait()
		// Closing the write end unblocks the drain goroutine's scanner.
		pw.Close()
		c.mu.Lock()
		rec.alive = false
		c.mu.Unlock()
		close(rec.done)
		if err != nil {
			logging.Debug(subsystem, "%s process for tunnel %s (PID %d) exited: %v", role, tunnelID, pid, err)
		} else {
			logging.Debug(subsystem, "%s process for tunnel %s (PID %d) exited cleanly", role, tunnelID, pid)
		}
	}()

	return pid, nil
}

// drainOutput reads the combined output stream until EOF, classifying each
// non-empty line. Error-classified lines stamp the tunnel's error mark.
func (c *Controller) drainOutput(tunnelID string, role Role, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		switch c.classifier.Classify(line) {
		case SeverityError:
			c.mu.Lock()
			c.errorMarks[tunnelID] = c.now()
			c.mu.Unlock()
			logging.Error(subsystem, nil, "[%s/%s] %s", tunnelID, role, line)
		case SeverityWarning:
			logging.Warn(subsystem, "[%s/%s] %s", tunnelID, role, line)
		default:
			logging.Debug(subsystem, "[%s/%s] %s", tunnelID, role, line)
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn(subsystem, "[%s/%s] output scan stopped: %v", tunnelID, role, err)
	}
	// The scanner stops early on oversized lines (bufio.ErrTooLong). The pipe
	// must still be consumed to EOF, or the process blocks on writes and never
	// gets reaped.
	io.Copy(io.Discard, r)
}

// Kill terminates all processes for every role under the tunnel and removes
// their bookkeeping. Idempotent: safe to call when nothing is running.
func (c *Controller) Kill(tunnelID string) {
	c.killRole(tunnelID, RoleForward)
	c.killRole(tunnelID, RoleRelay)
}

// killRole terminates and deregisters the process for one (tunnel, role).
func (c *Controller) killRole(tunnelID string, role Role) {
	c.mu.Lock()
	rec := c.procs[tunnelID][role]
	if rec != nil {
		delete(c.procs[tunnelID], role)
		if len(c.procs[tunnelID]) == 0 {
			delete(c.procs, tunnelID)
		}
	}
	c.mu.Unlock()
	if rec == nil {
		return
	}

	terminate(rec)
	logging.Debug(subsystem, "Killed %s process for tunnel %s", role, tunnelID)
}

// terminate asks the process to exit gracefully, then force-kills it if it
// does not comply within the grace period, and waits until it is fully reaped.
func terminate(rec *record) {
	if rec.cmd.Process == nil {
		return
	}
	if err := rec.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		rec.cmd.Process.Kill()
	}
	select {
	case <-rec.done:
		return
	case <-time.After(termGracePeriod):
		rec.cmd.Process.Kill()
	}
	<-rec.done
}

// IsAlive reports whether a live process is registered for (tunnel, role).
func (c *Controller) IsAlive(tunnelID string, role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.procs[tunnelID][role]
	return rec != nil && rec.alive
}

// RecentError reports whether an error-classified output line was observed
// for the tunnel within the given window.
func (c *Controller) RecentError(tunnelID string, within time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	mark, ok := c.errorMarks[tunnelID]
	return ok && c.now().Sub(mark) <= within
}

// ClearError removes the tunnel's error mark.
func (c *Controller) ClearError(tunnelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.errorMarks, tunnelID)
}
