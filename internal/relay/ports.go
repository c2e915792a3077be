package relay

import (
	"fmt"
	"net"
	"os"

	"tunnelctl/pkg/logging"
)

// Ephemeral upstream ports are derived from the relay's own PID so two relay
// processes rarely collide, then probed-and-incremented on collision. Not
// collision-proof, but an extra failed spawn just retries on the next probe.
const (
	portRangeBase = 30000
	portRangeSize = 10000
	maxPortProbes = 100
)

// portAvailable checks whether a TCP port can be bound on loopback.
func portAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// allocateUpstreamPort picks a free loopback port for one upstream session,
// reserving it against this relay's other in-flight sessions.
func (s *Server) allocateUpstreamPort() (int, error) {
	base := portRangeBase + os.Getpid()%portRangeSize

	for i := 0; i < maxPortProbes; i++ {
		port := portRangeBase + (base-portRangeBase+i)%portRangeSize

		// Reserve before probing so concurrent allocations skip this
		// candidate; the bind probe itself must not run under the lock.
		s.mu.Lock()
		if s.portsInUse[port] {
			s.mu.Unlock()
			continue
		}
		s.portsInUse[port] = true
		s.mu.Unlock()

		if portAvailable(port) {
			return port, nil
		}
		s.mu.Lock()
		delete(s.portsInUse, port)
		s.mu.Unlock()
		logging.Debug(subsystem, "Port %d occupied, probing next candidate", port)
	}
	return 0, fmt.Errorf("no free upstream port after %d probes", maxPortProbes)
}

// releaseUpstreamPort returns a port to the pool once its session is torn down.
func (s *Server) releaseUpstreamPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.portsInUse, port)
}
