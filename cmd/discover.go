package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tunnelctl/internal/discovery"
)

var discoverContext string

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover namespaces and services to tunnel to",
	}
	cmd.PersistentFlags().StringVar(&discoverContext, "context", "", "Kubeconfig context (defaults to the current context)")
	cmd.AddCommand(newDiscoverNamespacesCmd())
	cmd.AddCommand(newDiscoverServicesCmd())
	return cmd
}

func newDiscoverNamespacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces in the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			namespaces, err := discovery.Namespaces(cmd.Context(), discoverContext)
			if err != nil {
				return err
			}
			fmt.Println(tableHeaderStyle.Render(pad("NAME", 40) + "  STATUS"))
			for _, ns := range namespaces {
				fmt.Printf("%s  %s\n", pad(ns.Name, 40), ns.Status)
			}
			return nil
		},
	}
}

func newDiscoverServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services <namespace>",
		Short: "List services and their ports in a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := discovery.Services(cmd.Context(), discoverContext, args[0])
			if err != nil {
				return err
			}
			fmt.Println(tableHeaderStyle.Render(pad("NAME", 32) + "  " + pad("TYPE", 12) + "  PORTS"))
			for _, svc := range services {
				fmt.Printf("%s  %s  %s\n", pad(svc.Name, 32), pad(svc.Type, 12), formatPorts(svc.Ports))
			}
			return nil
		},
	}
}

func formatPorts(ports []discovery.ServicePort) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		s := strconv.Itoa(int(p.Port))
		if p.Name != "" {
			s = p.Name + ":" + s
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
