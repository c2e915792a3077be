package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"tunnelctl/pkg/logging"
)

const subsystem = "Discovery"

// For mocking in tests
var runKubectl = func(ctx context.Context, args ...string) (stdout []byte, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "kubectl", args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.Bytes(), errBuf.String(), err
}

// unreachableMarkers are stderr fragments kubectl emits when the control
// plane cannot be reached at all, as opposed to rejecting the query.
var unreachableMarkers = []string{
	"connection refused",
	"unable to connect to the server",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
}

// Namespaces lists the namespaces visible in the given kube context. An empty
// kubeContext uses the kubeconfig's current context.
func Namespaces(ctx context.Context, kubeContext string) ([]Namespace, error) {
	args := kubectlArgs(kubeContext, "get", "namespaces", "-o", "json")
	output, stderr, err := runKubectl(ctx, args...)
	if err != nil {
		return nil, classifyExecError(stderr, err)
	}

	var list corev1.NamespaceList
	if err := json.Unmarshal(output, &list); err != nil {
		return nil, fmt.Errorf("%w: namespace list: %v", ErrParsingFailed, err)
	}

	namespaces := make([]Namespace, 0, len(list.Items))
	for _, item := range list.Items {
		namespaces = append(namespaces, Namespace{
			Name:   item.Name,
			Status: string(item.Status.Phase),
		})
	}
	logging.Debug(subsystem, "Discovered %d namespaces", len(namespaces))
	return namespaces, nil
}

// Services lists the services in the given namespace with their cluster
// address and named/numbered ports.
func Services(ctx context.Context, kubeContext, namespace string) ([]Service, error) {
	args := kubectlArgs(kubeContext, "get", "services", "--namespace", namespace, "-o", "json")
	output, stderr, err := runKubectl(ctx, args...)
	if err != nil {
		return nil, classifyExecError(stderr, err)
	}

	var list corev1.ServiceList
	if err := json.Unmarshal(output, &list); err != nil {
		return nil, fmt.Errorf("%w: service list in %s: %v", ErrParsingFailed, namespace, err)
	}

	services := make([]Service, 0, len(list.Items))
	for _, item := range list.Items {
		svc := Service{
			Name:      item.Name,
			Namespace: item.Namespace,
			Type:      string(item.Spec.Type),
			ClusterIP: item.Spec.ClusterIP,
		}
		for _, p := range item.Spec.Ports {
			svc.Ports = append(svc.Ports, ServicePort{Name: p.Name, Port: p.Port})
		}
		services = append(services, svc)
	}
	logging.Debug(subsystem, "Discovered %d services in namespace %s", len(services), namespace)
	return services, nil
}

func kubectlArgs(kubeContext string, args ...string) []string {
	if kubeContext != "" {
		return append([]string{"--context", kubeContext}, args...)
	}
	return args
}

// classifyExecError maps a failed kubectl invocation onto the typed taxonomy
// using its stderr text and exit status.
func classifyExecError(stderr string, err error) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)

	for _, marker := range unreachableMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrClusterUnreachable, detail)
		}
	}
	if strings.Contains(lower, "not found") {
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	}
	if detail == "" {
		return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return fmt.Errorf("%w: %s", ErrExecutionFailed, detail)
}
