package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"tunnelctl/pkg/logging"
)

var logLevelFlag string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tunnelctl",
	Short: "Supervise kubectl port-forward tunnels with health checks and auto-reconnect",
	Long: `tunnelctl keeps logical network tunnels into Kubernetes clusters alive.
Each tunnel is realized by a kubectl port-forward process, optionally chained
with a local relay that fans the forwarded port out to multiple clients.
tunnelctl watches process liveness, probes the local ports, and reconnects
failed tunnels automatically.`,
	// SilenceUsage prevents printing usage on errors we handle ourselves
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.ParseLevel(logLevelFlag), os.Stderr)
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tunnelctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newTunnelCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newRelayCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
