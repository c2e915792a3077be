package process

import "fmt"

// Role identifies which stage of a tunnel a process serves.
type Role string

const (
	// RoleForward is the process holding the authorized channel to the remote
	// endpoint (kubectl port-forward).
	RoleForward Role = "forward"
	// RoleRelay is the optional fan-out listener in front of the forward stage.
	RoleRelay Role = "relay"
)

// SpawnSpec describes an external command to launch: executable path plus
// argument list. Stdout and stderr are always captured combined.
type SpawnSpec struct {
	Path string
	Args []string
}

// String renders the full command line, mainly for logs.
func (s SpawnSpec) String() string {
	out := s.Path
	for _, a := range s.Args {
		out += " " + a
	}
	return out
}

// SpawnError indicates the executable was missing or the launch failed at the
// OS level. It is fatal for that attempt; the monitor may retry later.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
