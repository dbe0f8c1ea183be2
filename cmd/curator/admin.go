package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/freshness"
	curator "github.com/ponsde/OpenViking-Curator/internal/server"
)

func containsCurated(uri string) bool {
	return strings.Contains(strings.ToLower(uri), "curated")
}

// withComponents loads config, builds the wired subsystems and runs fn.
func withComponents(fn func(c *curator.Components) error) error {
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
	return fn(c)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend, feedback and dedup health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(c *curator.Components) error {
				if !c.KB.Health() {
					fmt.Println("backend: unavailable")
					return nil
				}
				uris, err := c.KB.ListResources("viking://resources")
				if err != nil {
					return err
				}
				curated := 0
				for _, u := range uris {
					if containsCurated(u) {
						curated++
					}
				}
				fb := c.Feedback.Load()
				stats := c.DedupLog.Stats()

				fmt.Println("backend: ok")
				fmt.Printf("resources: %d (%d curated)\n", len(uris), curated)
				fmt.Printf("feedback: %d entries\n", len(fb))
				fmt.Printf("dedup: %d pairs checked, %d merged\n", stats.CheckedPairs, stats.Merged)
				if stats.LastRun != "" {
					fmt.Printf("dedup last run: %s\n", stats.LastRun)
				}
				return nil
			})
		},
	}
}

func newDedupCmd() *cobra.Command {
	var (
		maxChecks int
		merge     bool
	)

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Scan curated documents for near-duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(c *curator.Components) error {
				uris, err := c.KB.ListResources("viking://resources")
				if err != nil {
					return err
				}
				report, err := c.Deduper.Run(cmd.Context(), uris, maxChecks, merge)
				if err != nil {
					return err
				}
				fmt.Printf("checked %d pairs, merged %d\n", report.Checked, report.Merged)
				for _, d := range report.Details {
					fmt.Println("  " + d)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxChecks, "max-checks", 3, "pairs to compare this run")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge similar pairs instead of only reporting them")
	return cmd
}

func newRescanCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Scan curated documents for expired review-after dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(c *curator.Components) error {
				uris, err := c.KB.ListResources("viking://resources")
				if err != nil {
					return err
				}
				docs := map[string]string{}
				for _, u := range uris {
					if !containsCurated(u) {
						continue
					}
					content, err := c.KB.Read(u)
					if err != nil {
						continue
					}
					docs[u] = content
				}

				report := freshness.ScanTTL(docs, time.Now())
				if asJSON {
					out, err := json.MarshalIndent(report, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(out))
					return nil
				}

				fmt.Printf("scanned %d docs on %s: %d expired, %d expiring soon, %d ok, %d without metadata\n",
					report.TotalDocs, report.ScanDate,
					report.Expired, report.ExpiringSoon, report.OK, report.NoMetadata)
				for _, e := range report.ExpiredDocs {
					fmt.Printf("  expired %s (review_after %s)\n", e.URI, e.ReviewAfter)
				}
				for _, e := range report.ExpiringDocs {
					fmt.Printf("  expiring %s (review_after %s)\n", e.URI, e.ReviewAfter)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func newFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <uri> <up|down|adopt>",
		Short: "Record feedback on a curated document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(c *curator.Components) error {
				counts, err := c.Feedback.Apply(args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("%s: up=%d down=%d adopt=%d score=%d\n",
					args[0], counts.Up, counts.Down, counts.Adopt, counts.Score())
				return nil
			})
		},
	}
}
