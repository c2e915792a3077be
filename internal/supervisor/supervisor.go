package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tunnelctl/internal/config"
	"tunnelctl/internal/process"
	"tunnelctl/pkg/logging"
)

const subsystem = "Supervisor"

const (
	defaultForwardSettle = 2 * time.Second
	defaultRelaySettle   = 1 * time.Second
	defaultRestartDelay  = 500 * time.Millisecond
	defaultErrorWindow   = 10 * time.Second
)

// Supervisor owns the runtime state of every tunnel and drives their stage
// transitions. Connect attempts run as per-stage tasks; the health monitor
// calls ReconcileAll to react to process death, closed ports and error
// output.
type Supervisor struct {
	procs    ProcessController
	probe    HealthProbe
	notifier Notifier

	// Delays are fields so tests can shorten them.
	forwardSettle time.Duration
	relaySettle   time.Duration
	restartDelay  time.Duration
	errorWindow   time.Duration

	mu      sync.RWMutex
	tunnels map[string]*tunnelState

	killing atomic.Bool
}

// New creates a supervisor with no tunnels registered.
func New(procs ProcessController, probe HealthProbe, notifier Notifier) *Supervisor {
	return &Supervisor{
		procs:         procs,
		probe:         probe,
		notifier:      notifier,
		forwardSettle: defaultForwardSettle,
		relaySettle:   defaultRelaySettle,
		restartDelay:  defaultRestartDelay,
		errorWindow:   defaultErrorWindow,
		tunnels:       make(map[string]*tunnelState),
	}
}

// Add registers a tunnel in the Disconnected state.
func (s *Supervisor) Add(cfg config.TunnelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tunnels[cfg.ID]; ok {
		return fmt.Errorf("tunnel %q is already registered", cfg.ID)
	}
	s.tunnels[cfg.ID] = newTunnelState(cfg)
	return nil
}

// Update replaces a tunnel's configuration. Any running stages are torn down
// first so the next start picks up the new settings.
func (s *Supervisor) Update(cfg config.TunnelConfig) error {
	ts := s.lookup(cfg.ID)
	if ts == nil {
		return fmt.Errorf("unknown tunnel %q", cfg.ID)
	}
	s.stopTunnel(ts)
	ts.mu.Lock()
	ts.cfg = cfg
	ts.lastError = ""
	ts.mu.Unlock()
	return nil
}

// Remove stops a tunnel and deletes it from the supervisor.
func (s *Supervisor) Remove(id string) {
	ts := s.lookup(id)
	if ts == nil {
		return
	}
	s.stopTunnel(ts)
	s.mu.Lock()
	delete(s.tunnels, id)
	s.mu.Unlock()
}

// Start begins the connect sequence for one tunnel. Disabled tunnels are
// rejected.
func (s *Supervisor) Start(id string) error {
	ts := s.lookup(id)
	if ts == nil {
		return fmt.Errorf("unknown tunnel %q", id)
	}
	ts.mu.Lock()
	enabled := ts.cfg.Enabled
	ts.mu.Unlock()
	if !enabled {
		return fmt.Errorf("tunnel %q is disabled", id)
	}
	s.startForward(ts)
	return nil
}

// StartAll starts every enabled tunnel.
func (s *Supervisor) StartAll() {
	for _, ts := range s.all() {
		ts.mu.Lock()
		enabled := ts.cfg.Enabled
		ts.mu.Unlock()
		if enabled {
			s.startForward(ts)
		}
	}
}

// Stop cancels a tunnel's connect tasks and kills its processes. Safe to call
// on a tunnel that is already stopped.
func (s *Supervisor) Stop(id string) {
	if ts := s.lookup(id); ts != nil {
		s.stopTunnel(ts)
	}
}

// StopAll stops every tunnel.
func (s *Supervisor) StopAll() {
	for _, ts := range s.all() {
		s.stopTunnel(ts)
	}
}

// Restart stops a tunnel, waits a short grace period for ports to free up,
// and starts it again.
func (s *Supervisor) Restart(id string) error {
	ts := s.lookup(id)
	if ts == nil {
		return fmt.Errorf("unknown tunnel %q", id)
	}
	s.stopTunnel(ts)
	time.Sleep(s.restartDelay)
	return s.Start(id)
}

// KillAll cancels every tunnel and sweeps the system for stray tunnel
// processes. Reconciliation is suppressed while the sweep runs.
func (s *Supervisor) KillAll() {
	s.killing.Store(true)
	defer s.killing.Store(false)
	s.StopAll()
	s.procs.KillAll()
}

// Status returns a snapshot of one tunnel.
func (s *Supervisor) Status(id string) (TunnelStatus, bool) {
	ts := s.lookup(id)
	if ts == nil {
		return TunnelStatus{}, false
	}
	return ts.snapshot(), true
}

// List returns snapshots of all tunnels, sorted by name.
func (s *Supervisor) List() []TunnelStatus {
	states := s.all()
	out := make([]TunnelStatus, 0, len(states))
	for _, ts := range states {
		out = append(out, ts.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Name < out[j].Config.Name })
	return out
}

// ReconcileAll runs one reconciliation pass over every enabled tunnel with
// auto-reconnect set. It is a no-op while a global kill is in progress.
func (s *Supervisor) ReconcileAll() {
	if s.killing.Load() {
		return
	}
	for _, ts := range s.all() {
		ts.mu.Lock()
		cfg := ts.cfg
		ts.mu.Unlock()
		if !cfg.Enabled || !cfg.AutoReconnect {
			continue
		}
		s.reconcile(ts)
	}
}

func (s *Supervisor) lookup(id string) *tunnelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tunnels[id]
}

func (s *Supervisor) all() []*tunnelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*tunnelState, 0, len(s.tunnels))
	for _, ts := range s.tunnels {
		out = append(out, ts)
	}
	return out
}

// startForward kicks off the forward stage connect task. In direct-exec mode
// there is no discrete forward process; the stage is marked connected and the
// relay carries the traffic.
func (s *Supervisor) startForward(ts *tunnelState) {
	ts.mu.Lock()
	cfg := ts.cfg
	if cfg.DirectExec {
		ts.forwardStatus = StatusConnected
		ts.mu.Unlock()
		s.startRelay(ts)
		return
	}
	if ts.forwardStatus == StatusConnecting || ts.forwardStatus == StatusConnected {
		ts.mu.Unlock()
		return
	}
	ts.forwardStatus = StatusConnecting
	ts.forwardGen++
	gen := ts.forwardGen
	ctx, cancel := context.WithCancel(context.Background())
	if ts.forwardCancel != nil {
		ts.forwardCancel()
	}
	ts.forwardCancel = cancel
	ts.mu.Unlock()
	go s.connectForward(ctx, ts, cfg, gen)
}

func (s *Supervisor) connectForward(ctx context.Context, ts *tunnelState, cfg config.TunnelConfig, gen int) {
	spec := process.ForwardSpec(cfg)
	logging.Debug(subsystem, "Starting forward stage for tunnel %s: %s", cfg.Name, spec.String())
	if _, err := s.procs.Start(cfg.ID, process.RoleForward, spec); err != nil {
		s.setForward(ts, gen, StatusError, err.Error())
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.forwardSettle):
	}
	if !s.procs.IsAlive(cfg.ID, process.RoleForward) {
		s.setForward(ts, gen, StatusError, "port-forward exited during startup")
		return
	}
	if !s.setForward(ts, gen, StatusConnected, "") {
		return
	}
	logging.Info(subsystem, "Tunnel %s forward stage connected on port %d", cfg.Name, cfg.LocalPort)
	s.stageConnected(ts, cfg)
	if cfg.HasRelay() {
		s.startRelay(ts)
	}
}

// startRelay kicks off the relay stage connect task. Callers ensure the
// forward stage is connected first.
func (s *Supervisor) startRelay(ts *tunnelState) {
	ts.mu.Lock()
	cfg := ts.cfg
	if !cfg.HasRelay() || ts.relayStatus == StatusConnecting || ts.relayStatus == StatusConnected {
		ts.mu.Unlock()
		return
	}
	ts.relayStatus = StatusConnecting
	ts.relayGen++
	gen := ts.relayGen
	ctx, cancel := context.WithCancel(context.Background())
	if ts.relayCancel != nil {
		ts.relayCancel()
	}
	ts.relayCancel = cancel
	ts.mu.Unlock()
	go s.connectRelay(ctx, ts, cfg, gen)
}

func (s *Supervisor) connectRelay(ctx context.Context, ts *tunnelState, cfg config.TunnelConfig, gen int) {
	var spec process.SpawnSpec
	if cfg.DirectExec {
		var err error
		spec, err = process.DirectExecRelaySpec(cfg)
		if err != nil {
			s.setRelay(ts, gen, StatusError, err.Error())
			return
		}
	} else {
		spec = process.RelaySpec(cfg)
	}
	logging.Debug(subsystem, "Starting relay stage for tunnel %s: %s", cfg.Name, spec.String())
	if _, err := s.procs.Start(cfg.ID, process.RoleRelay, spec); err != nil {
		s.setRelay(ts, gen, StatusError, err.Error())
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.relaySettle):
	}
	if !s.procs.IsAlive(cfg.ID, process.RoleRelay) {
		s.setRelay(ts, gen, StatusError, "relay exited during startup")
		return
	}
	if !s.setRelay(ts, gen, StatusConnected, "") {
		return
	}
	logging.Info(subsystem, "Tunnel %s relay stage connected on port %d", cfg.Name, cfg.ProxyPort)
	s.stageConnected(ts, cfg)
}

// setForward applies a forward stage transition if gen is still the current
// generation. Returns false when the task has been superseded.
func (s *Supervisor) setForward(ts *tunnelState, gen int, status Status, errMsg string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.forwardGen != gen {
		return false
	}
	ts.forwardStatus = status
	if errMsg != "" {
		ts.lastError = errMsg
	} else if status == StatusConnected {
		ts.lastError = ""
	}
	return true
}

func (s *Supervisor) setRelay(ts *tunnelState, gen int, status Status, errMsg string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.relayGen != gen {
		return false
	}
	ts.relayStatus = status
	if errMsg != "" {
		ts.lastError = errMsg
	} else if status == StatusConnected {
		ts.lastError = ""
	}
	return true
}

// stageConnected runs after a stage reaches Connected. When the whole tunnel
// is up it fires the (throttle-gated) recovery notification and checks
// whether every enabled tunnel is now ready.
func (s *Supervisor) stageConnected(ts *tunnelState, cfg config.TunnelConfig) {
	ts.mu.Lock()
	full := ts.fullyConnectedLocked()
	ts.mu.Unlock()
	if !full {
		return
	}
	s.notifier.Connected(cfg.Name, fmt.Sprintf("Tunnel %s is connected again", cfg.Name))
	s.checkAllReady()
}

func (s *Supervisor) checkAllReady() {
	enabled := 0
	for _, ts := range s.all() {
		snap := ts.snapshot()
		if !snap.Config.Enabled {
			continue
		}
		enabled++
		if !snap.FullyConnected {
			return
		}
	}
	if enabled > 0 {
		s.notifier.AllReady()
	}
}

func (s *Supervisor) stopTunnel(ts *tunnelState) {
	ts.mu.Lock()
	ts.forwardGen++
	ts.relayGen++
	if ts.forwardCancel != nil {
		ts.forwardCancel()
		ts.forwardCancel = nil
	}
	if ts.relayCancel != nil {
		ts.relayCancel()
		ts.relayCancel = nil
	}
	ts.forwardStatus = StatusDisconnected
	ts.relayStatus = StatusDisconnected
	id := ts.cfg.ID
	ts.mu.Unlock()
	s.procs.Kill(id)
}

// reconcile performs one health pass over a single tunnel and applies the
// resulting transitions.
func (s *Supervisor) reconcile(ts *tunnelState) {
	ts.mu.Lock()
	cfg := ts.cfg
	f := ts.forwardStatus
	r := ts.relayStatus
	ts.mu.Unlock()

	if cfg.DirectExec {
		s.reconcileDirect(ts, cfg, r)
		return
	}

	switch f {
	case StatusConnected:
		if reason, bad := s.forwardFault(cfg); bad {
			s.forwardLost(ts, cfg, reason)
			return
		}
	case StatusError:
		s.procs.ClearError(cfg.ID)
		fallthrough
	case StatusDisconnected:
		s.startForward(ts)
		return
	default: // Connecting, let the task finish
		return
	}

	if !cfg.HasRelay() {
		return
	}
	switch r {
	case StatusConnected:
		if reason, bad := s.relayFault(cfg); bad {
			s.relayLost(ts, cfg, reason)
		}
	case StatusError:
		s.procs.ClearError(cfg.ID)
		fallthrough
	case StatusDisconnected:
		s.startRelay(ts)
	}
}

func (s *Supervisor) reconcileDirect(ts *tunnelState, cfg config.TunnelConfig, r Status) {
	switch r {
	case StatusConnected:
		switch {
		case s.procs.RecentError(cfg.ID, s.errorWindow):
			s.relayLost(ts, cfg, "error output detected from relay")
		case !s.procs.IsAlive(cfg.ID, process.RoleRelay):
			s.relayLost(ts, cfg, "relay process died")
		case !s.probe.IsOpen(cfg.ProxyPort):
			s.relayLost(ts, cfg, fmt.Sprintf("relay port %d stopped responding", cfg.ProxyPort))
		}
	case StatusError:
		s.procs.ClearError(cfg.ID)
		fallthrough
	case StatusDisconnected:
		s.startForward(ts)
	}
}

func (s *Supervisor) forwardFault(cfg config.TunnelConfig) (string, bool) {
	switch {
	case s.procs.RecentError(cfg.ID, s.errorWindow):
		return "error output detected from port-forward", true
	case !s.procs.IsAlive(cfg.ID, process.RoleForward):
		return "port-forward process died", true
	case !s.probe.IsOpen(cfg.LocalPort):
		return fmt.Sprintf("local port %d stopped responding", cfg.LocalPort), true
	}
	return "", false
}

func (s *Supervisor) relayFault(cfg config.TunnelConfig) (string, bool) {
	switch {
	case !s.procs.IsAlive(cfg.ID, process.RoleRelay):
		return "relay process died", true
	case !s.probe.IsOpen(cfg.ProxyPort):
		return fmt.Sprintf("relay port %d stopped responding", cfg.ProxyPort), true
	}
	return "", false
}

// forwardLost tears the whole tunnel down (the relay cannot outlive its local
// port), notifies, and immediately re-enters the connect sequence.
func (s *Supervisor) forwardLost(ts *tunnelState, cfg config.TunnelConfig, reason string) {
	ts.mu.Lock()
	if ts.forwardStatus != StatusConnected {
		ts.mu.Unlock()
		return
	}
	ts.forwardGen++
	ts.relayGen++
	if ts.forwardCancel != nil {
		ts.forwardCancel()
		ts.forwardCancel = nil
	}
	if ts.relayCancel != nil {
		ts.relayCancel()
		ts.relayCancel = nil
	}
	ts.forwardStatus = StatusDisconnected
	ts.relayStatus = StatusDisconnected
	ts.lastError = reason
	ts.mu.Unlock()

	logging.Warn(subsystem, "Tunnel %s disconnected: %s", cfg.Name, reason)
	s.notifier.Disconnected(cfg.Name, reason)
	s.procs.ClearError(cfg.ID)
	s.procs.Kill(cfg.ID)
	s.startForward(ts)
}

// relayLost restarts only the relay stage. In direct-exec mode the relay is
// the whole tunnel, so the reconnect goes through startForward to restore the
// placeholder forward state as well.
func (s *Supervisor) relayLost(ts *tunnelState, cfg config.TunnelConfig, reason string) {
	ts.mu.Lock()
	if ts.relayStatus != StatusConnected {
		ts.mu.Unlock()
		return
	}
	ts.relayGen++
	if ts.relayCancel != nil {
		ts.relayCancel()
		ts.relayCancel = nil
	}
	ts.relayStatus = StatusDisconnected
	if cfg.DirectExec {
		ts.forwardStatus = StatusDisconnected
	}
	ts.lastError = reason
	ts.mu.Unlock()

	logging.Warn(subsystem, "Tunnel %s relay disconnected: %s", cfg.Name, reason)
	s.notifier.Disconnected(cfg.Name, reason)
	s.procs.ClearError(cfg.ID)
	if cfg.DirectExec {
		s.procs.Kill(cfg.ID)
		s.startForward(ts)
		return
	}
	s.startRelay(ts)
}
