package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/config"
	"tunnelctl/internal/notify"
	"tunnelctl/internal/process"
	"tunnelctl/internal/supervisor"
)

var desktopNotifications bool

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start all enabled tunnels and supervise them in the foreground",
		Long: `Starts every enabled tunnel from the configuration file and keeps them
alive. A health monitor probes the tunnels once per second and reconnects
anything that died, closed its port, or printed error output.

Runs in the foreground until interrupted (Ctrl+C). On shutdown all tunnel
processes are terminated.`,
		RunE: runUp,
	}
	cmd.Flags().BoolVar(&desktopNotifications, "notify", true, "Send desktop notifications on tunnel state changes")
	return cmd
}

func runUp(cmd *cobra.Command, args []string) error {
	path, err := config.DefaultStorePath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	store, err := config.NewStore(path)
	if err != nil {
		return fmt.Errorf("loading tunnel config: %w", err)
	}

	tunnels := store.List()
	enabled := 0
	for _, t := range tunnels {
		if t.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		fmt.Println("No enabled tunnels configured. Add one with 'tunnelctl tunnel add'.")
		return nil
	}

	var sink notify.Sink = &notify.LogSink{}
	if desktopNotifications {
		sink = &notify.DesktopSink{}
	}

	sup := supervisor.New(process.NewController(), supervisor.NewTCPProbe(), notify.NewThrottler(sink))
	for _, t := range tunnels {
		if err := sup.Add(t); err != nil {
			return err
		}
	}

	fmt.Printf("Starting %d tunnel(s)...\n", enabled)
	sup.StartAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitorDone := make(chan struct{})
	go func() {
		supervisor.NewMonitor(sup).Run(ctx)
		close(monitorDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nReceived interrupt signal. Shutting down tunnels...")
	cancel()
	sup.StopAll()

	select {
	case <-monitorDone:
	case <-time.After(5 * time.Second):
		fmt.Println("Timeout waiting for monitor to stop. Forcing exit.")
	}
	fmt.Println("All tunnels stopped.")
	return nil
}
