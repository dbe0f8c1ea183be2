package curatortools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponsde/OpenViking-Curator/internal/feedback"
)

// FeedbackTool handles the curator_feedback MCP tool.
type FeedbackTool struct {
	fb *feedback.Store
}

// NewFeedbackTool creates a FeedbackTool.
func NewFeedbackTool(fb *feedback.Store) *FeedbackTool {
	return &FeedbackTool{fb: fb}
}

// Definition returns the MCP tool definition for curator_feedback.
func (t *FeedbackTool) Definition() mcp.Tool {
	return mcp.NewTool("curator_feedback",
		mcp.WithDescription(
			"Record feedback on a curated document. Positive feedback raises its retrieval "+
				"priority; 'adopt' counts double.",
		),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("Document URI, e.g. viking://resources/1700000000_curated_nginx"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: up, down, adopt"),
		),
	)
}

// Handle processes the curator_feedback tool call.
func (t *FeedbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri := req.GetString("uri", "")
	action := req.GetString("action", "")
	if strings.TrimSpace(uri) == "" || strings.TrimSpace(action) == "" {
		return mcp.NewToolResultError("'uri' and 'action' are required"), nil
	}

	counts, err := t.fb.Apply(uri, action)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("feedback failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Recorded %s for %s — up: %d, down: %d, adopt: %d (score %d)",
		action, uri, counts.Up, counts.Down, counts.Adopt, counts.Score())), nil
}
