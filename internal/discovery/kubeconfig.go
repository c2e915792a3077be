package discovery

import (
	"fmt"

	"k8s.io/client-go/tools/clientcmd"
)

// CurrentKubeContext returns the kubeconfig's active context name.
func CurrentKubeContext() (string, error) {
	pathOptions := clientcmd.NewDefaultPathOptions()
	config, err := pathOptions.GetStartingConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	if config.CurrentContext == "" {
		return "", fmt.Errorf("current kubeconfig context is not set")
	}
	return config.CurrentContext, nil
}

// KubeContextExists reports whether the named context is defined in the
// kubeconfig, so a bad --kube-context flag fails before any process spawns.
func KubeContextExists(name string) (bool, error) {
	pathOptions := clientcmd.NewDefaultPathOptions()
	config, err := pathOptions.GetStartingConfig()
	if err != nil {
		return false, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	_, exists := config.Contexts[name]
	return exists, nil
}
