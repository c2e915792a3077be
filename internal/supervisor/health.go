package supervisor

import (
	"fmt"
	"net"
	"time"
)

const defaultProbeTimeout = 1 * time.Second

// TCPProbe checks port health by attempting a TCP connection to the local
// loopback interface. A successful connect means something is listening and
// accepting; anything else counts as closed.
type TCPProbe struct {
	Timeout time.Duration
}

// NewTCPProbe returns a probe with the default connect timeout.
func NewTCPProbe() *TCPProbe {
	return &TCPProbe{Timeout: defaultProbeTimeout}
}

// IsOpen reports whether 127.0.0.1:port accepts a TCP connection within the
// probe timeout.
func (p *TCPProbe) IsOpen(port int) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
