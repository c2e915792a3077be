package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tunnelctl",
		Long:  `All software has versions. This is tunnelctl's.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tunnelctl version %s\n", rootCmd.Version)
		},
	}
}
