package curatortools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/freshness"
)

// IngestTool handles the curator_ingest MCP tool.
type IngestTool struct {
	kb backend.Knowledge
}

// NewIngestTool creates an IngestTool.
func NewIngestTool(kb backend.Knowledge) *IngestTool {
	return &IngestTool{kb: kb}
}

// Definition returns the MCP tool definition for curator_ingest.
func (t *IngestTool) Definition() mcp.Tool {
	return mcp.NewTool("curator_ingest",
		mcp.WithDescription(
			"Store a markdown document in the curated knowledge base with a freshness "+
				"metadata header and review-after date.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Markdown content to store"),
		),
		mcp.WithString("title",
			mcp.Description("Document title (defaults to the first heading or line)"),
		),
		mcp.WithString("freshness",
			mcp.Description("Freshness label: current, recent, unknown or outdated (default: unknown)"),
		),
	)
}

// Handle processes the curator_ingest tool call.
func (t *IngestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	label := req.GetString("freshness", freshness.Unknown)
	switch label {
	case freshness.Current, freshness.Recent, freshness.Unknown, freshness.Outdated:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid freshness label %q", label)), nil
	}
	title := req.GetString("title", "")
	if title == "" {
		title = firstTitle(content)
	}

	stamped := freshness.StampHeader(content, label, time.Now())
	uri, err := t.kb.Ingest(stamped, "curated_"+title, map[string]string{
		"source":    "manual_ingest",
		"freshness": label,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stored as %s (freshness: %s, ttl: %d days)",
		uri, label, freshness.TTLDays[label])), nil
}

// firstTitle extracts a title from the leading heading or first line.
func firstTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return backend.Truncate(line, 60)
		}
	}
	return "untitled"
}
