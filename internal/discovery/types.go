package discovery

import "errors"

// Typed failures surfaced by discovery queries. Callers match with errors.Is.
var (
	// ErrNotFound: the named namespace (or resource) does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrExecutionFailed: the query command exited non-zero for a reason other
	// than the ones below.
	ErrExecutionFailed = errors.New("discovery command failed")
	// ErrParsingFailed: the query output could not be decoded.
	ErrParsingFailed = errors.New("discovery response could not be parsed")
	// ErrClusterUnreachable: network or kubeconfig trouble reaching the
	// control plane. Retrying is at the caller's discretion.
	ErrClusterUnreachable = errors.New("cluster unreachable")
)

// Namespace is one namespace visible in the cluster.
type Namespace struct {
	Name   string
	Status string
}

// ServicePort is one named or numbered port exposed by a service.
type ServicePort struct {
	Name string
	Port int32
}

// Service describes a remote service candidate for tunnelling.
type Service struct {
	Name      string
	Namespace string
	Type      string
	ClusterIP string
	Ports     []ServicePort
}
