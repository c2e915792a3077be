package supervisor

import (
	"context"
	"time"

	"tunnelctl/pkg/logging"
)

const defaultMonitorInterval = 1 * time.Second

// Monitor drives periodic reconciliation of all supervised tunnels. Passes
// run on the monitor goroutine itself, so a slow pass delays the next tick
// instead of overlapping it.
type Monitor struct {
	sup      *Supervisor
	interval time.Duration
}

// NewMonitor returns a monitor polling at the default one second interval.
func NewMonitor(sup *Supervisor) *Monitor {
	return &Monitor{sup: sup, interval: defaultMonitorInterval}
}

// Run blocks, reconciling once per interval, until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	logging.Debug("HealthMonitor", "Starting health monitor loop (interval %s)", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Debug("HealthMonitor", "Health monitor loop stopped")
			return
		case <-ticker.C:
			m.sup.ReconcileAll()
		}
	}
}
