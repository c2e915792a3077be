package supervisor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelctl/internal/config"
	"tunnelctl/internal/process"
)

type startCall struct {
	tunnelID string
	role     process.Role
	spec     process.SpawnSpec
}

// fakeController implements ProcessController with scriptable liveness and
// error marks.
type fakeController struct {
	mu       sync.Mutex
	alive    map[string]bool
	starts   []startCall
	kills    []string
	killAlls int
	errored  map[string]bool
	cleared  []string
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{
		alive:   make(map[string]bool),
		errored: make(map[string]bool),
	}
}

func key(id string, role process.Role) string { return id + "/" + string(role) }

func (c *fakeController) Start(tunnelID string, role process.Role, spec process.SpawnSpec) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return 0, c.startErr
	}
	c.starts = append(c.starts, startCall{tunnelID, role, spec})
	c.alive[key(tunnelID, role)] = true
	return 4000 + len(c.starts), nil
}

func (c *fakeController) Kill(tunnelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kills = append(c.kills, tunnelID)
	delete(c.alive, key(tunnelID, process.RoleForward))
	delete(c.alive, key(tunnelID, process.RoleRelay))
}

func (c *fakeController) KillAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killAlls++
	c.alive = make(map[string]bool)
}

func (c *fakeController) IsAlive(tunnelID string, role process.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive[key(tunnelID, role)]
}

func (c *fakeController) RecentError(tunnelID string, within time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errored[tunnelID]
}

func (c *fakeController) ClearError(tunnelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.errored, tunnelID)
	c.cleared = append(c.cleared, tunnelID)
}

func (c *fakeController) setAlive(id string, role process.Role, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if alive {
		c.alive[key(id, role)] = true
	} else {
		delete(c.alive, key(id, role))
	}
}

func (c *fakeController) markError(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errored[id] = true
}

func (c *fakeController) startCalls() []startCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]startCall, len(c.starts))
	copy(out, c.starts)
	return out
}

func (c *fakeController) killCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.kills))
	copy(out, c.kills)
	return out
}

// fakeProbe reports every port open unless explicitly closed.
type fakeProbe struct {
	mu     sync.Mutex
	closed map[int]bool
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{closed: make(map[int]bool)}
}

func (p *fakeProbe) IsOpen(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed[port]
}

func (p *fakeProbe) setClosed(port int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed[port] = closed
}

type fakeNotifier struct {
	mu           sync.Mutex
	disconnected []string
	connected    []string
	allReady     int
}

func (n *fakeNotifier) Disconnected(name, body string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, name)
	return true
}

func (n *fakeNotifier) Connected(name, body string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, name)
	return true
}

func (n *fakeNotifier) AllReady() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allReady++
}

func (n *fakeNotifier) disconnectCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.disconnected)
}

func (n *fakeNotifier) connectCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.connected)
}

func (n *fakeNotifier) allReadyCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.allReady
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeController, *fakeProbe, *fakeNotifier) {
	t.Helper()
	ctrl := newFakeController()
	probe := newFakeProbe()
	notifier := &fakeNotifier{}
	s := New(ctrl, probe, notifier)
	s.forwardSettle = 10 * time.Millisecond
	s.relaySettle = 10 * time.Millisecond
	s.restartDelay = 10 * time.Millisecond
	return s, ctrl, probe, notifier
}

func testTunnel(id string) config.TunnelConfig {
	return config.TunnelConfig{
		ID:            id,
		Name:          "tunnel-" + id,
		Namespace:     "default",
		Service:       "db",
		LocalPort:     5432,
		RemotePort:    5432,
		Enabled:       true,
		AutoReconnect: true,
	}
}

func testRelayTunnel(id string) config.TunnelConfig {
	cfg := testTunnel(id)
	cfg.ProxyPort = 15432
	return cfg
}

func fullyConnected(s *Supervisor, id string) func() bool {
	return func() bool {
		snap, ok := s.Status(id)
		return ok && snap.FullyConnected
	}
}

func TestStartConnectsForwardOnly(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))

	require.NoError(t, s.Start("t1"))
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	snap, ok := s.Status("t1")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, snap.ForwardStatus)
	assert.Equal(t, StatusDisconnected, snap.RelayStatus)

	calls := ctrl.startCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, process.RoleForward, calls[0].role)
	assert.Equal(t, "kubectl", calls[0].spec.Path)
}

func TestStartConnectsForwardThenRelay(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testRelayTunnel("t1")))

	require.NoError(t, s.Start("t1"))
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	calls := ctrl.startCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, process.RoleForward, calls[0].role)
	assert.Equal(t, process.RoleRelay, calls[1].role)
	assert.Equal(t, "socat", calls[1].spec.Path)
}

func TestStartDisabledTunnelRejected(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	cfg := testTunnel("t1")
	cfg.Enabled = false
	require.NoError(t, s.Add(cfg))

	assert.Error(t, s.Start("t1"))
	assert.Empty(t, ctrl.startCalls())
}

func TestSpawnFailureTransitionsToError(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	ctrl.startErr = fmt.Errorf("exec: \"kubectl\": executable file not found")
	require.NoError(t, s.Add(testTunnel("t1")))

	require.NoError(t, s.Start("t1"))
	assert.Eventually(t, func() bool {
		snap, _ := s.Status("t1")
		return snap.ForwardStatus == StatusError
	}, time.Second, 5*time.Millisecond)

	snap, _ := s.Status("t1")
	assert.Contains(t, snap.LastError, "not found")
}

func TestDeathDuringSettleTransitionsToError(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	s.forwardSettle = 50 * time.Millisecond
	require.NoError(t, s.Add(testTunnel("t1")))

	require.NoError(t, s.Start("t1"))
	// Process dies before the settle window elapses.
	assert.Eventually(t, func() bool {
		return len(ctrl.startCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	ctrl.setAlive("t1", process.RoleForward, false)

	assert.Eventually(t, func() bool {
		snap, _ := s.Status("t1")
		return snap.ForwardStatus == StatusError
	}, time.Second, 5*time.Millisecond)
}

func TestStopCancelsInFlightConnect(t *testing.T) {
	s, _, _, notifier := newTestSupervisor(t)
	s.forwardSettle = 100 * time.Millisecond
	require.NoError(t, s.Add(testTunnel("t1")))

	require.NoError(t, s.Start("t1"))
	s.Stop("t1")

	time.Sleep(200 * time.Millisecond)
	snap, _ := s.Status("t1")
	assert.Equal(t, StatusDisconnected, snap.ForwardStatus)
	assert.Zero(t, notifier.connectCount())
}

func TestStopIsIdempotent(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))

	s.Stop("t1")
	s.Stop("t1")
	assert.Len(t, ctrl.killCalls(), 2)

	snap, _ := s.Status("t1")
	assert.Equal(t, StatusDisconnected, snap.ForwardStatus)
}

func TestReconcileRestartsDeadForward(t *testing.T) {
	s, ctrl, _, notifier := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
	base := notifier.connectCount()

	ctrl.setAlive("t1", process.RoleForward, false)
	s.ReconcileAll()

	assert.Equal(t, 1, notifier.disconnectCount())
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
	assert.Equal(t, base+1, notifier.connectCount())
	assert.GreaterOrEqual(t, len(ctrl.startCalls()), 2)
}

func TestReconcileRestartsOnClosedLocalPort(t *testing.T) {
	s, _, probe, notifier := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	probe.setClosed(5432, true)
	s.ReconcileAll()

	assert.Equal(t, 1, notifier.disconnectCount())
	snap, _ := s.Status("t1")
	assert.Contains(t, snap.LastError, "5432")

	probe.setClosed(5432, false)
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
}

func TestReconcileActsOnErrorMarkAndClearsIt(t *testing.T) {
	s, ctrl, _, notifier := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	ctrl.markError("t1")
	s.ReconcileAll()

	assert.Equal(t, 1, notifier.disconnectCount())
	assert.Contains(t, ctrl.cleared, "t1")
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
}

func TestReconcileRestartsRelayOnly(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testRelayTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
	killsBefore := len(ctrl.killCalls())

	ctrl.setAlive("t1", process.RoleRelay, false)
	s.ReconcileAll()

	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
	// Forward stage is untouched: no full-tunnel kill happened.
	assert.Len(t, ctrl.killCalls(), killsBefore)

	calls := ctrl.startCalls()
	assert.Equal(t, process.RoleRelay, calls[len(calls)-1].role)
	snap, _ := s.Status("t1")
	assert.Equal(t, StatusConnected, snap.ForwardStatus)
}

func TestReconcileRestartsRelayOnClosedRelayPort(t *testing.T) {
	s, _, probe, notifier := newTestSupervisor(t)
	require.NoError(t, s.Add(testRelayTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	probe.setClosed(15432, true)
	s.ReconcileAll()

	assert.Equal(t, 1, notifier.disconnectCount())
	snap, _ := s.Status("t1")
	assert.Equal(t, StatusConnected, snap.ForwardStatus)
	assert.Contains(t, snap.LastError, "15432")

	probe.setClosed(15432, false)
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
}

func TestReconcileSkipsTunnelsWithoutAutoReconnect(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	cfg := testTunnel("t1")
	cfg.AutoReconnect = false
	require.NoError(t, s.Add(cfg))

	s.ReconcileAll()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ctrl.startCalls())
}

func TestReconcileSkippedWhileKilling(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))

	s.killing.Store(true)
	s.ReconcileAll()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ctrl.startCalls())

	s.killing.Store(false)
	s.ReconcileAll()
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
}

func TestKillAllStopsEverythingAndSweeps(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Add(testRelayTunnel("t2")))
	s.StartAll()
	require.Eventually(t, func() bool {
		return fullyConnected(s, "t1")() && fullyConnected(s, "t2")()
	}, time.Second, 5*time.Millisecond)

	s.KillAll()

	ctrl.mu.Lock()
	killAlls := ctrl.killAlls
	ctrl.mu.Unlock()
	assert.Equal(t, 1, killAlls)
	for _, id := range []string{"t1", "t2"} {
		snap, _ := s.Status(id)
		assert.Equal(t, StatusDisconnected, snap.ForwardStatus)
		assert.Equal(t, StatusDisconnected, snap.RelayStatus)
	}
}

func TestAllReadyFiresWhenEveryEnabledTunnelConnects(t *testing.T) {
	s, _, _, notifier := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Add(testTunnel("t2")))
	disabled := testTunnel("t3")
	disabled.Enabled = false
	require.NoError(t, s.Add(disabled))

	s.StartAll()
	assert.Eventually(t, func() bool {
		return notifier.allReadyCount() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateResetsConnectedTunnel(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	cfg := testTunnel("t1")
	cfg.LocalPort = 6543
	require.NoError(t, s.Update(cfg))

	snap, _ := s.Status("t1")
	assert.Equal(t, StatusDisconnected, snap.ForwardStatus)
	assert.Equal(t, 6543, snap.Config.LocalPort)
	assert.Contains(t, ctrl.killCalls(), "t1")
}

func TestRemoveDeletesTunnel(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	s.Remove("t1")
	_, ok := s.Status("t1")
	assert.False(t, ok)
	assert.Error(t, s.Start("t1"))
}

func TestAddDuplicateRejected(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	assert.Error(t, s.Add(testTunnel("t1")))
}

func TestRestartCyclesTunnel(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	require.NoError(t, s.Add(testTunnel("t1")))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	require.NoError(t, s.Restart("t1"))
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
	assert.Contains(t, ctrl.killCalls(), "t1")
	assert.GreaterOrEqual(t, len(ctrl.startCalls()), 2)
}

func TestDirectExecTunnelRunsRelayOnly(t *testing.T) {
	s, ctrl, _, _ := newTestSupervisor(t)
	cfg := testRelayTunnel("t1")
	cfg.DirectExec = true
	require.NoError(t, s.Add(cfg))

	require.NoError(t, s.Start("t1"))
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	calls := ctrl.startCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, process.RoleRelay, calls[0].role)
	assert.Contains(t, calls[0].spec.Args, "relay")
}

func TestDirectExecReconcileRestartsRelay(t *testing.T) {
	s, ctrl, _, notifier := newTestSupervisor(t)
	cfg := testRelayTunnel("t1")
	cfg.DirectExec = true
	require.NoError(t, s.Add(cfg))
	require.NoError(t, s.Start("t1"))
	require.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)

	ctrl.setAlive("t1", process.RoleRelay, false)
	s.ReconcileAll()

	assert.Equal(t, 1, notifier.disconnectCount())
	assert.Eventually(t, fullyConnected(s, "t1"), time.Second, 5*time.Millisecond)
}
