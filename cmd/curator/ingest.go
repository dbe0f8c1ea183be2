package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/freshness"
	curator "github.com/ponsde/OpenViking-Curator/internal/server"
)

func newIngestCmd() *cobra.Command {
	var title, label string

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Store a markdown document with a freshness header ('-' or no arg reads stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				content []byte
				err     error
			)
			if len(args) == 0 || args[0] == "-" {
				content, err = io.ReadAll(os.Stdin)
			} else {
				content, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			if strings.TrimSpace(string(content)) == "" {
				return fmt.Errorf("nothing to ingest")
			}

			switch label {
			case freshness.Current, freshness.Recent, freshness.Unknown, freshness.Outdated:
			default:
				return fmt.Errorf("invalid freshness label %q", label)
			}

			cfg, err := config.Load(false)
			if err != nil {
				return err
			}
			logger, err := newLogger(false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := curator.NewComponents(&cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if title == "" && len(args) > 0 && args[0] != "-" {
				title = strings.TrimSuffix(args[0], ".md")
			}
			if title == "" {
				title = "doc"
			}

			stamped := freshness.StampHeader(string(content), label, time.Now())
			uri, err := c.KB.Ingest(stamped, "curated_"+title, map[string]string{
				"source":    "cli_ingest",
				"freshness": label,
			})
			if err != nil {
				return err
			}
			fmt.Printf("stored %s (freshness: %s, ttl: %d days)\n",
				uri, label, freshness.TTLDays[label])
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (defaults to the file name)")
	cmd.Flags().StringVar(&label, "freshness", freshness.Unknown, "current, recent, unknown or outdated")
	return cmd
}
