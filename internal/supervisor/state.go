package supervisor

import (
	"context"
	"sync"

	"tunnelctl/internal/config"
)

// Status is the connection status of a single tunnel stage.
type Status string

const (
	StatusDisconnected Status = "Disconnected"
	StatusConnecting   Status = "Connecting"
	StatusConnected    Status = "Connected"
	StatusError        Status = "Error"
)

// tunnelState is the runtime state of one supervised tunnel. All fields are
// guarded by mu. Status transitions carry a generation token so that a task
// whose run was superseded (stop, restart, config update) can never apply a
// stale transition.
type tunnelState struct {
	mu  sync.Mutex
	cfg config.TunnelConfig

	forwardStatus Status
	relayStatus   Status
	lastError     string

	forwardGen    int
	relayGen      int
	forwardCancel context.CancelFunc
	relayCancel   context.CancelFunc
}

func newTunnelState(cfg config.TunnelConfig) *tunnelState {
	return &tunnelState{
		cfg:           cfg,
		forwardStatus: StatusDisconnected,
		relayStatus:   StatusDisconnected,
	}
}

// fullyConnectedLocked reports whether every stage the config calls for is
// connected. Callers must hold ts.mu.
func (ts *tunnelState) fullyConnectedLocked() bool {
	if ts.forwardStatus != StatusConnected {
		return false
	}
	if ts.cfg.HasRelay() && ts.relayStatus != StatusConnected {
		return false
	}
	return true
}

// TunnelStatus is a point-in-time snapshot of a supervised tunnel, safe to
// hand to callers without further locking.
type TunnelStatus struct {
	Config         config.TunnelConfig
	ForwardStatus  Status
	RelayStatus    Status
	LastError      string
	FullyConnected bool
}

func (ts *tunnelState) snapshot() TunnelStatus {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return TunnelStatus{
		Config:         ts.cfg,
		ForwardStatus:  ts.forwardStatus,
		RelayStatus:    ts.relayStatus,
		LastError:      ts.lastError,
		FullyConnected: ts.fullyConnectedLocked(),
	}
}
