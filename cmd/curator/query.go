package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ponsde/OpenViking-Curator/internal/config"
	curator "github.com/ponsde/OpenViking-Curator/internal/server"
)

func newQueryCmd() *cobra.Command {
	var verbose, asJSON bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one curation cycle and print the assembled context",
		Args:  cobra.MinimumNArgs(1),
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

			c, err := curator.NewComponents(&cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Pipeline.Run(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			if !result.Routed {
				fmt.Printf("not routed (%s)\n", result.Reason)
				return nil
			}
			if result.Context != "" {
				fmt.Println(result.Context)
			}
			if result.ExternalText != "" {
				fmt.Println("\n[EXTERNAL SEARCH]")
				fmt.Println(result.ExternalText)
			}
			fmt.Printf("\ncoverage=%.2f reason=%s tier=%s sources=%d\n",
				result.Coverage, result.Reason, result.Stage, len(result.UsedURIs))
			if result.Ingested {
				fmt.Printf("ingested: %s\n", result.IngestedURI)
			}
			for _, w := range result.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
