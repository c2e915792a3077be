package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/process"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Kill stray tunnel processes left behind by previous runs",
		Long: `Sweeps the system for kubectl port-forward, socat relay and tunnelctl
relay processes and kills them. Use this when a previous tunnelctl run did
not shut down cleanly and ports are still held.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			process.NewController().KillAll()
			fmt.Println("Cleanup complete.")
			return nil
		},
	}
}
