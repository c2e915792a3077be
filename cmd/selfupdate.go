package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

// githubRepoSlug is the repository releases are fetched from.
var githubRepoSlug = "tunnelctl/tunnelctl"

func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update tunnelctl to the latest release",
		Long: `Checks for the latest release on GitHub and, if a newer version is
available, downloads it and replaces the current binary in place.`,
		RunE: runSelfUpdate,
	}
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	version := rootCmd.Version
	if version == "" || version == "dev" {
		return fmt.Errorf("cannot self-update a development version; install a released build first")
	}

	ctx := context.Background()
	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(githubRepoSlug))
	if err != nil {
		return fmt.Errorf("error checking for latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for %s on this platform", githubRepoSlug)
	}

	if latest.LessOrEqual(version) {
		fmt.Printf("Current version %s is the latest\n", version)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}

	fmt.Printf("Updating %s -> %s...\n", version, latest.Version())
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("error updating binary: %w", err)
	}

	fmt.Printf("Successfully updated to version %s\n", latest.Version())
	return nil
}
