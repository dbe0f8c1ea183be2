package curatortools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
)

// DedupTool handles the curator_dedup MCP tool.
type DedupTool struct {
	kb      backend.Knowledge
	deduper *dedup.Deduper
}

// NewDedupTool creates a DedupTool.
func NewDedupTool(kb backend.Knowledge, deduper *dedup.Deduper) *DedupTool {
	return &DedupTool{kb: kb, deduper: deduper}
}

// Definition returns the MCP tool definition for curator_dedup.
func (t *DedupTool) Definition() mcp.Tool {
	return mcp.NewTool("curator_dedup",
		mcp.WithDescription(
			"Scan curated documents for near-duplicates. Incremental: each call "+
				"checks a bounded number of unseen pairs. Reports similar pairs; "+
				"pass merge=true to combine them and remove the originals.",
		),
		mcp.WithNumber("max_checks",
			mcp.Description("Pairs to compare this run (default: 3)"),
		),
		mcp.WithBoolean("merge",
			mcp.Description("Merge similar pairs instead of only reporting them (default: false)"),
		),
	)
}

// Handle processes the curator_dedup tool call.
func (t *DedupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxChecks := intArg(req, "max_checks", 3)
	merge := boolArg(req, "merge", false)

	uris, err := t.kb.ListResources("viking://resources")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list resources failed: %v", err)), nil
	}

	report, err := t.deduper.Run(ctx, uris, maxChecks, merge)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("dedup failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Checked %d pairs, merged %d.\n", report.Checked, report.Merged)
	for _, d := range report.Details {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return mcp.NewToolResultText(b.String()), nil
}
