package supervisor

import (
	"time"

	"tunnelctl/internal/process"
)

// ProcessController is the slice of the process controller the supervisor
// drives. Satisfied by *process.Controller.
type ProcessController interface {
	Start(tunnelID string, role process.Role, spec process.SpawnSpec) (int, error)
	Kill(tunnelID string)
	KillAll()
	IsAlive(tunnelID string, role process.Role) bool
	RecentError(tunnelID string, within time.Duration) bool
	ClearError(tunnelID string)
}

// HealthProbe checks whether a local port is actually accepting traffic,
// independent of process liveness.
type HealthProbe interface {
	IsOpen(port int) bool
}

// Notifier is the throttled alert surface. Satisfied by *notify.Throttler.
type Notifier interface {
	Disconnected(name, body string) bool
	Connected(name, body string) bool
	AllReady()
}
