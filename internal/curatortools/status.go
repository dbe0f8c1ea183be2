package curatortools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
)

// StatusTool handles the curator_status MCP tool.
type StatusTool struct {
	kb  backend.Knowledge
	fb  *feedback.Store
	log *dedup.Log
}

// NewStatusTool creates a StatusTool; log may be nil.
func NewStatusTool(kb backend.Knowledge, fb *feedback.Store, log *dedup.Log) *StatusTool {
	return &StatusTool{kb: kb, fb: fb, log: log}
}

// Definition returns the MCP tool definition for curator_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("curator_status",
		mcp.WithDescription(
			"Show curator health: backend availability, resource count, feedback entries "+
				"and dedup activity.",
		),
	)
}

// Handle processes the curator_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString("## Curator Status\n\n")

	healthy := t.kb.Health()
	fmt.Fprintf(&b, "- **Backend**: %s\n", map[bool]string{true: "ok", false: "unavailable"}[healthy])

	if healthy {
		uris, err := t.kb.ListResources("viking://resources")
		if err == nil {
			curated := 0
			for _, u := range uris {
				if strings.Contains(u, "curated") {
					curated++
				}
			}
			fmt.Fprintf(&b, "- **Resources**: %d (%d curated)\n", len(uris), curated)
		}
	}

	fb := t.fb.Load()
	positive := 0
	for _, c := range fb {
		if c.Score() > 0 {
			positive++
		}
	}
	fmt.Fprintf(&b, "- **Feedback**: %d entries (%d positive)\n", len(fb), positive)

	if t.log != nil {
		stats := t.log.Stats()
		fmt.Fprintf(&b, "- **Dedup**: %d pairs checked, %d merged", stats.CheckedPairs, stats.Merged)
		if stats.LastRun != "" {
			fmt.Fprintf(&b, " (last run %s)", stats.LastRun)
		}
		b.WriteString("\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}
