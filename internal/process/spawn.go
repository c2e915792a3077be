package process

import (
	"fmt"
	"os"
	"strconv"

	"tunnelctl/internal/config"
)

// For mocking in tests
var osExecutable = os.Executable

// ForwardSpec builds the spawn spec for the forward stage: a kubectl
// port-forward bound to loopback.
func ForwardSpec(cfg config.TunnelConfig) SpawnSpec {
	args := []string{"port-forward"}
	if cfg.KubeContext != "" {
		args = append(args, "--context", cfg.KubeContext)
	}
	args = append(args,
		"--namespace", cfg.Namespace,
		"--address", "127.0.0.1",
		fmt.Sprintf("svc/%s", cfg.Service),
		fmt.Sprintf("%d:%d", cfg.LocalPort, cfg.RemotePort),
	)
	return SpawnSpec{Path: "kubectl", Args: args}
}

// RelaySpec builds the spawn spec for the standard relay stage: a socat
// fan-out listener in front of the forward port. fork accepts multiple
// concurrent inbound connections, reuseaddr lets restarts rebind immediately.
func RelaySpec(cfg config.TunnelConfig) SpawnSpec {
	return SpawnSpec{
		Path: "socat",
		Args: []string{
			fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr", cfg.ProxyPort),
			fmt.Sprintf("TCP:127.0.0.1:%d", cfg.LocalPort),
		},
	}
}

// DirectExecRelaySpec builds the spawn spec for multi-connection relay mode:
// the tool's own binary re-invoked as the hidden relay subcommand, which
// establishes a fresh upstream session per inbound client connection.
func DirectExecRelaySpec(cfg config.TunnelConfig) (SpawnSpec, error) {
	self, err := osExecutable()
	if err != nil {
		return SpawnSpec{}, fmt.Errorf("could not resolve own executable path: %w", err)
	}
	args := []string{
		"relay",
		"--listen", strconv.Itoa(cfg.ProxyPort),
		"--namespace", cfg.Namespace,
		"--service", cfg.Service,
		"--remote-port", strconv.Itoa(cfg.RemotePort),
	}
	if cfg.KubeContext != "" {
		args = append(args, "--kube-context", cfg.KubeContext)
	}
	return SpawnSpec{Path: self, Args: args}, nil
}
