package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tunnelctl/internal/relay"
)

// newRelayCmd is the hidden subcommand the supervisor re-invokes for
// direct-exec tunnels. It accepts client connections on the listen port and
// establishes a dedicated upstream port-forward session per client.
func newRelayCmd() *cobra.Command {
	var cfg relay.Config

	cmd := &cobra.Command{
		Use:    "relay",
		Short:  "Run a multi-connection relay (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			return relay.NewServer(cfg).Run(ctx)
		},
	}

	cmd.Flags().IntVar(&cfg.ListenPort, "listen", 0, "Port to accept client connections on")
	cmd.Flags().StringVar(&cfg.Namespace, "namespace", "", "Kubernetes namespace of the upstream service")
	cmd.Flags().StringVar(&cfg.Service, "service", "", "Upstream Kubernetes service")
	cmd.Flags().IntVar(&cfg.RemotePort, "remote-port", 0, "Upstream service port")
	cmd.Flags().StringVar(&cfg.KubeContext, "kube-context", "", "Kubeconfig context for upstream sessions")
	for _, required := range []string{"listen", "namespace", "service", "remote-port"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}
