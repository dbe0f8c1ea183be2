// Package resources implements MCP resource handlers for the curator.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (curator://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
)

// Handler manages curator resource endpoints.
type Handler struct {
	kb  backend.Knowledge
	fb  *feedback.Store
	log *dedup.Log
}

// NewHandler creates a resource Handler; log may be nil.
func NewHandler(kb backend.Knowledge, fb *feedback.Store, log *dedup.Log) *Handler {
	return &Handler{kb: kb, fb: fb, log: log}
}

// status is the JSON shape served at curator://status.
type status struct {
	Backend   string         `json:"backend"`
	Resources int            `json:"resources"`
	Curated   int            `json:"curated"`
	Feedback  feedbackStatus `json:"feedback"`
	Dedup     *dedupStatus   `json:"dedup,omitempty"`
}

type feedbackStatus struct {
	Entries  int `json:"entries"`
	Positive int `json:"positive"`
}

type dedupStatus struct {
	CheckedPairs int    `json:"checked_pairs"`
	Merged       int    `json:"merged"`
	LastRun      string `json:"last_run,omitempty"`
}

// StatusResource returns the MCP resource definition for curator status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"curator://status",
		"Curator Status",
		mcp.WithResourceDescription("Backend health, curated document counts, feedback and dedup activity"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the current curator status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st := status{Backend: "unavailable"}

	if h.kb.Health() {
		st.Backend = "ok"
		if uris, err := h.kb.ListResources("viking://resources"); err == nil {
			st.Resources = len(uris)
			for _, u := range uris {
				if strings.Contains(u, "curated") {
					st.Curated++
				}
			}
		}
	}

	for _, c := range h.fb.Load() {
		st.Feedback.Entries++
		if c.Score() > 0 {
			st.Feedback.Positive++
		}
	}

	if h.log != nil {
		stats := h.log.Stats()
		st.Dedup = &dedupStatus{
			CheckedPairs: stats.CheckedPairs,
			Merged:       stats.Merged,
			LastRun:      stats.LastRun,
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// document is one entry in the curator://documents listing.
type document struct {
	URI      string `json:"uri"`
	Abstract string `json:"abstract,omitempty"`
}

// DocumentsResource returns the MCP resource definition for the curated
// document listing.
func (h *Handler) DocumentsResource() mcp.Resource {
	return mcp.NewResource(
		"curator://documents",
		"Curated Documents",
		mcp.WithResourceDescription("URIs and abstracts of documents the curator has ingested"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleDocuments lists curated documents with their abstracts.
func (h *Handler) HandleDocuments(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if !h.kb.Health() {
		return errorResource(req.Params.URI, "knowledge backend unavailable"), nil
	}

	uris, err := h.kb.ListResources("viking://resources")
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	docs := make([]document, 0, len(uris))
	for _, u := range uris {
		if !strings.Contains(u, "curated") {
			continue
		}
		abstract, _ := h.kb.Abstract(u)
		docs = append(docs, document{URI: u, Abstract: abstract})
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling documents: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
