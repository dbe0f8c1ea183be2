// Curator: knowledge-governance MCP server and CLI.
//
// Curates a local technical knowledge base: scores how well stored
// knowledge covers a query, pulls in and reviews external sources when
// it falls short, and keeps the corpus fresh and deduplicated.
//
// Usage:
//
//	curator serve              # Start MCP server (stdio transport)
//	curator query "..."        # Run one curation cycle from the shell
//	curator status             # Backend, feedback and dedup health
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ponsde/OpenViking-Curator/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:           "curator",
		Short:         "Knowledge-governance engine for a local curated knowledge base",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newQueryCmd(),
		newIngestCmd(),
		newStatusCmd(),
		newDedupCmd(),
		newRescanCmd(),
		newFeedbackCmd(),
		newUpdateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Everything goes to stderr:
// stdout belongs to the MCP stdio transport when serving, and to
// command output otherwise.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
