package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"tunnelctl/internal/config"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	enabledStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	disabledStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newTunnelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Manage tunnel configurations",
	}
	cmd.AddCommand(newTunnelAddCmd())
	cmd.AddCommand(newTunnelListCmd())
	cmd.AddCommand(newTunnelRemoveCmd())
	cmd.AddCommand(newTunnelEnableCmd(true))
	cmd.AddCommand(newTunnelEnableCmd(false))
	return cmd
}

func openStore() (*config.Store, error) {
	path, err := config.DefaultStorePath()
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	return config.NewStore(path)
}

func newTunnelAddCmd() *cobra.Command {
	var cfg config.TunnelConfig
	var noAutoReconnect, disabled bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a tunnel configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ID == "" {
				cfg.ID = cfg.Name
			}
			cfg.Enabled = !disabled
			cfg.AutoReconnect = !noAutoReconnect
			if cfg.DirectExec && cfg.ProxyPort == 0 {
				return fmt.Errorf("--direct-exec requires --proxy-port")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Add(cfg); err != nil {
				return err
			}
			fmt.Printf("Added tunnel %q (%s/%s port %d -> %d)\n",
				cfg.ID, cfg.Namespace, cfg.Service, cfg.LocalPort, cfg.RemotePort)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.ID, "id", "", "Tunnel identifier (defaults to the name)")
	cmd.Flags().StringVar(&cfg.Name, "name", "", "Human readable tunnel name")
	cmd.Flags().StringVar(&cfg.Namespace, "namespace", "", "Kubernetes namespace of the service")
	cmd.Flags().StringVar(&cfg.Service, "service", "", "Kubernetes service to forward to")
	cmd.Flags().StringVar(&cfg.KubeContext, "context", "", "Kubeconfig context (defaults to the current context)")
	cmd.Flags().IntVar(&cfg.LocalPort, "local-port", 0, "Local port for the port-forward")
	cmd.Flags().IntVar(&cfg.RemotePort, "remote-port", 0, "Remote service port")
	cmd.Flags().IntVar(&cfg.ProxyPort, "proxy-port", 0, "Relay listen port for multi-client access (0 disables the relay)")
	cmd.Flags().BoolVar(&cfg.DirectExec, "direct-exec", false, "Run the relay with per-client upstream sessions instead of socat")
	cmd.Flags().BoolVar(&noAutoReconnect, "no-auto-reconnect", false, "Do not reconnect this tunnel automatically")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the tunnel in the disabled state")
	for _, required := range []string{"name", "namespace", "service", "local-port", "remote-port"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}

func newTunnelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			tunnels := store.List()
			if len(tunnels) == 0 {
				fmt.Println("No tunnels configured.")
				return nil
			}
			fmt.Println(renderTunnelTable(tunnels))
			return nil
		},
	}
}

// renderTunnelTable formats the tunnel list as an aligned, styled table.
func renderTunnelTable(tunnels []config.TunnelConfig) string {
	headers := []string{"ID", "NAME", "TARGET", "PORTS", "RELAY", "STATE"}
	rows := make([][]string, 0, len(tunnels))
	for _, t := range tunnels {
		relay := "-"
		if t.HasRelay() {
			relay = strconv.Itoa(t.ProxyPort)
			if t.DirectExec {
				relay += " (direct)"
			}
		}
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		rows = append(rows, []string{
			t.ID,
			t.Name,
			fmt.Sprintf("%s/%s", t.Namespace, t.Service),
			fmt.Sprintf("%d->%d", t.LocalPort, t.RemotePort),
			relay,
			state,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(tableHeaderStyle.Render(pad(h, widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			text := pad(cell, widths[i])
			if i == len(row)-1 {
				if cell == "enabled" {
					text = enabledStyle.Render(text)
				} else {
					text = disabledStyle.Render(text)
				}
			}
			b.WriteString(text)
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func newTunnelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a tunnel configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed tunnel %q\n", args[0])
			return nil
		},
	}
}

func newTunnelEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a tunnel"
	if !enable {
		use, short = "disable <id>", "Disable a tunnel"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			cfg, ok := store.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", config.ErrTunnelNotFound, args[0])
			}
			if cfg.Enabled == enable {
				fmt.Printf("Tunnel %q is already %s\n", args[0], map[bool]string{true: "enabled", false: "disabled"}[enable])
				return nil
			}
			cfg.Enabled = enable
			if err := store.Update(cfg); err != nil {
				return err
			}
			fmt.Printf("Tunnel %q %s\n", args[0], map[bool]string{true: "enabled", false: "disabled"}[enable])
			return nil
		},
	}
}
