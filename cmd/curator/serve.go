package main

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ponsde/OpenViking-Curator/internal/config"
	curator "github.com/ponsde/OpenViking-Curator/internal/server"
)

func newServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(false)
			if err != nil {
				return err
			}
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			s, cleanup, err := curator.New(&cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			// Best-effort: nudge the operator on stderr when a newer
			// release exists. Never blocks startup.
			go checkForUpdates()

			// The stdio server manages its own lifecycle and returns
			// when stdin closes.
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}
