package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tunnelctl/internal/config"
	"tunnelctl/internal/process"
	"tunnelctl/pkg/logging"
)

const subsystem = "Relay"

// Readiness wait for a freshly spawned upstream session: bounded retries,
// roughly five seconds total.
const (
	readyProbeInterval = 500 * time.Millisecond
	readyProbeAttempts = 10
	readyProbeTimeout  = time.Second
)

// Config describes one multi-connection relay: the external listen port and
// the remote endpoint each per-client upstream session forwards to.
type Config struct {
	ListenPort  int
	KubeContext string
	Namespace   string
	Service     string
	RemotePort  int
}

// Server accepts client connections and gives each one an isolated upstream
// session: a dedicated kubectl port-forward on an ephemeral loopback port,
// spliced to the client and torn down when the client disconnects.
type Server struct {
	cfg   Config
	procs *process.Controller

	mu         sync.Mutex
	portsInUse map[int]bool
	sessionSeq atomic.Int64

	// startUpstream is replaceable in tests.
	startUpstream func(localPort int) (stop func(), err error)
}

// NewServer creates a relay server for cfg.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:        cfg,
		procs:      process.NewController(),
		portsInUse: make(map[int]bool),
	}
	s.startUpstream = s.spawnUpstream
	return s
}

// Run listens on the configured port and serves until the context is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("relay could not listen on port %d: %w", s.cfg.ListenPort, err)
	}
	logging.Info(subsystem, "Listening on %s, forwarding to %s/%s:%d per connection",
		ln.Addr(), s.cfg.Namespace, s.cfg.Service, s.cfg.RemotePort)
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			// In-flight sessions keep splicing until their clients close;
			// never abandon them mid-transfer.
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay accept failed: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs one client session end to end: allocate a port, spawn the
// upstream, wait for it to serve, splice, and tear everything down on close.
func (s *Server) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()
	session := s.sessionSeq.Add(1)

	port, err := s.allocateUpstreamPort()
	if err != nil {
		logging.Error(subsystem, err, "Session %d: no upstream port for %s", session, client.RemoteAddr())
		return
	}
	defer s.releaseUpstreamPort(port)

	stop, err := s.startUpstream(port)
	if err != nil {
		logging.Error(subsystem, err, "Session %d: upstream spawn failed", session)
		return
	}
	defer stop()

	upstream, err := dialUntilReady(ctx, port)
	if err != nil {
		logging.Error(subsystem, err, "Session %d: upstream on port %d never became ready", session, port)
		return
	}
	defer upstream.Close()

	logging.Debug(subsystem, "Session %d: splicing %s through 127.0.0.1:%d", session, client.RemoteAddr(), port)
	splice(client, upstream)
	logging.Debug(subsystem, "Session %d: closed", session)
}

// spawnUpstream launches a dedicated kubectl port-forward for one session.
func (s *Server) spawnUpstream(localPort int) (func(), error) {
	// The upstream port is unique among in-flight sessions, so it doubles as
	// the process-table key.
	id := fmt.Sprintf("session-%d", localPort)
	spec := process.ForwardSpec(config.TunnelConfig{
		Namespace:   s.cfg.Namespace,
		Service:     s.cfg.Service,
		KubeContext: s.cfg.KubeContext,
		LocalPort:   localPort,
		RemotePort:  s.cfg.RemotePort,
	})
	if _, err := s.procs.Start(id, process.RoleForward, spec); err != nil {
		return nil, err
	}
	return func() { s.procs.Kill(id) }, nil
}

// dialUntilReady connects to the upstream port, retrying while the spawned
// session is still binding. The successful dial is the session connection.
func dialUntilReady(ctx context.Context, port int) (net.Conn, error) {
	address := fmt.Sprintf("127.0.0.1:%d", port)
	var lastErr error
	for attempt := 0; attempt < readyProbeAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		conn, err := net.DialTimeout("tcp", address, readyProbeTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(readyProbeInterval)
	}
	return nil, fmt.Errorf("upstream not ready after %d attempts: %w", readyProbeAttempts, lastErr)
}

// splice copies bytes both ways until either side closes, then closes both.
func splice(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
	// Closing both unblocks the remaining copy.
	a.Close()
	b.Close()
	<-done
}
