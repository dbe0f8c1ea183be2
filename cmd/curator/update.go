package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	curator "github.com/ponsde/OpenViking-Curator/internal/server"
	"github.com/ponsde/OpenViking-Curator/internal/updater"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update curator to the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(os.Stderr, "Checking for updates...")

			u := updater.New(curator.Version)
			check := u.Latest()
			if !check.Newer {
				fmt.Fprintf(os.Stderr, "Already at the latest version (v%s)\n", check.Current)
				return nil
			}

			fmt.Fprintf(os.Stderr, "New version available: v%s → v%s\n", check.Current, check.Latest)
			fmt.Fprintln(os.Stderr, "Downloading...")

			if err := u.Apply(); err != nil {
				fmt.Fprintf(os.Stderr, "You can download manually from:\n  %s\n", check.PageURL)
				return fmt.Errorf("update failed: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Updated to v%s. Restart curator to use the new version.\n", check.Latest)
			return nil
		},
	}
}

// checkForUpdates runs a best-effort version check and prints a notice
// to stderr when a newer release exists; serve calls it in a goroutine.
func checkForUpdates() {
	check := updater.New(curator.Version).Latest()
	if check.Newer {
		fmt.Fprintf(os.Stderr,
			"\nUpdate available: v%s → v%s\nRun: curator update\nRelease: %s\n\n",
			check.Current, check.Latest, check.PageURL,
		)
	}
}
