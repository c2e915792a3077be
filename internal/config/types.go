package config

// TunnelConfig describes one logical tunnel: a local TCP port bridged to a
// remote Kubernetes service, optionally fanned out through a relay listener.
//
// Configs are user-authored and persisted; runtime status lives with the
// supervisor, never here.
type TunnelConfig struct {
	// ID uniquely identifies the tunnel across edits and restarts.
	ID string `yaml:"id"`
	// Name is the human-readable display name used in notifications.
	Name string `yaml:"name"`
	// Namespace and Service identify the remote endpoint.
	Namespace string `yaml:"namespace"`
	Service   string `yaml:"service"`
	// KubeContext selects the kube context for spawned kubectl processes.
	// Empty means the kubeconfig's current context.
	KubeContext string `yaml:"kubeContext,omitempty"`

	LocalPort  int `yaml:"localPort"`
	RemotePort int `yaml:"remotePort"`
	// ProxyPort, when non-zero, enables the relay stage listening on this port.
	ProxyPort int `yaml:"proxyPort,omitempty"`

	Enabled       bool `yaml:"isEnabled"`
	AutoReconnect bool `yaml:"autoReconnect"`
	// DirectExec selects multi-connection relay mode: no discrete forward
	// process, the relay spawns an isolated upstream session per client.
	DirectExec bool `yaml:"useDirectExec,omitempty"`
}

// HasRelay reports whether a relay stage is configured for this tunnel.
func (c TunnelConfig) HasRelay() bool {
	return c.ProxyPort != 0
}
