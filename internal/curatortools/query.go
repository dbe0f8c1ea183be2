package curatortools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponsde/OpenViking-Curator/internal/pipeline"
)

// QueryTool handles the curator_query MCP tool.
type QueryTool struct {
	pipe *pipeline.Pipeline
}

// NewQueryTool creates a QueryTool.
func NewQueryTool(pipe *pipeline.Pipeline) *QueryTool {
	return &QueryTool{pipe: pipe}
}

// Definition returns the MCP tool definition for curator_query.
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("curator_query",
		mcp.WithDescription(
			"Query the curated knowledge base. Runs the full curation cycle: local retrieval, "+
				"coverage assessment, and — when local knowledge falls short — external search, "+
				"review and ingestion of the result.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question — natural language, Chinese or English"),
		),
	)
}

// Handle processes the curator_query tool call.
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	result, err := t.pipe.Run(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if !result.Routed {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Query not routed to the knowledge base (%s). Answer directly without curated context.",
			result.Reason)), nil
	}

	var b strings.Builder
	if result.Context != "" {
		b.WriteString(result.Context)
		b.WriteString("\n\n")
	}
	if result.ExternalText != "" {
		b.WriteString("[EXTERNAL SEARCH]\n")
		b.WriteString(result.ExternalText)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "---\ncoverage: %.2f | reason: %s | tier: %s | sources: %d\n",
		result.Coverage, result.Reason, result.Stage, len(result.UsedURIs))
	if result.Ingested {
		fmt.Fprintf(&b, "ingested: %s\n", result.IngestedURI)
	}
	if result.Judge != nil && result.Judge.HasConflict && result.Resolution != nil {
		fmt.Fprintf(&b, "conflict: %s (prefer %s)\n",
			result.Judge.ConflictSummary, result.Resolution.Preferred)
		for _, p := range result.Judge.ConflictPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("No curated knowledge found for this query."), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}
