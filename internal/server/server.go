// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools that depend on abstractions. No curation
// policy lives here — only wiring.
package server

import (
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/coverage"
	"github.com/ponsde/OpenViking-Curator/internal/curatortools"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
	"github.com/ponsde/OpenViking-Curator/internal/judge"
	"github.com/ponsde/OpenViking-Curator/internal/llm"
	"github.com/ponsde/OpenViking-Curator/internal/pipeline"
	"github.com/ponsde/OpenViking-Curator/internal/resources"
	"github.com/ponsde/OpenViking-Curator/internal/search"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Components bundles the wired curator subsystems. The CLI uses it
// directly; the MCP server wraps it in tool handlers.
type Components struct {
	KB       backend.Knowledge
	Feedback *feedback.Store
	DedupLog *dedup.Log
	Deduper  *dedup.Deduper
	Pipeline *pipeline.Pipeline

	// Close releases the knowledge store; always non-nil.
	Close func()
}

// NewComponents resolves every dependency from config. Model-backed
// stages degrade gracefully: without chat credentials, queries answer
// from local knowledge only, and external search, judging and
// merge-mode dedup stay disabled.
func NewComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := backend.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	kb := backend.NewDispatcher(store, cfg.BackendTimeout)

	fb := feedback.NewStore(cfg.FeedbackPath)
	dedupLog := dedup.NewLog(cfg.DedupLogPath)

	// keyword index sits beside the database; an absent file disables
	// the retrieval backstop
	index := coverage.LoadIndex(filepath.Join(cfg.DataDir, "local_index.json"))

	opts := pipeline.Options{Index: index}
	var deduper *dedup.Deduper

	if cfg.ChatBaseURL != "" {
		chatClient := llm.NewClient(cfg.ChatBaseURL, cfg.ChatAPIKey, cfg.JudgeTimeout)
		opts.Judger = judge.New(chatClient, cfg.JudgeModels)

		provider, err := search.NewProvider(cfg)
		if err != nil {
			logger.Warn("external search disabled", zap.Error(err))
		} else {
			opts.Provider = provider
			opts.Validator = search.NewValidator(chatClient, cfg.JudgeModels, provider)
		}

		mergeClient := llm.NewClient(cfg.ChatBaseURL, cfg.ChatAPIKey, cfg.MergeTimeout)
		merger := dedup.NewLLMMerger(mergeClient, cfg.MergeModels)
		deduper = dedup.New(kb, dedupLog, merger, cfg.DedupThreshold, cfg.DedupMaxDocs, logger)
		opts.Deduper = deduper
	} else {
		logger.Info("no chat endpoint configured, running local-only")
		// detect-only dedup still works without models
		deduper = dedup.New(kb, dedupLog, nil, cfg.DedupThreshold, cfg.DedupMaxDocs, logger)
	}

	return &Components{
		KB:       kb,
		Feedback: fb,
		DedupLog: dedupLog,
		Deduper:  deduper,
		Pipeline: pipeline.New(cfg, kb, fb, opts, logger),
		Close: func() {
			kb.Close()
			if err := store.Close(); err != nil {
				logger.Warn("knowledge store close", zap.Error(err))
			}
		},
	}, nil
}

// New creates and configures the MCP server with all curator tools
// registered.
//
// The returned cleanup function closes the knowledge store and must be
// called on shutdown (typically via defer). It is always non-nil.
func New(cfg *config.Config, logger *zap.Logger) (*server.MCPServer, func(), error) {
	c, err := NewComponents(cfg, logger)
	if err != nil {
		return nil, noop, err
	}

	s := server.NewMCPServer(
		"openviking-curator",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	queryTool := curatortools.NewQueryTool(c.Pipeline)
	s.AddTool(queryTool.Definition(), queryTool.Handle)

	ingestTool := curatortools.NewIngestTool(c.KB)
	s.AddTool(ingestTool.Definition(), ingestTool.Handle)

	statusTool := curatortools.NewStatusTool(c.KB, c.Feedback, c.DedupLog)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	feedbackTool := curatortools.NewFeedbackTool(c.Feedback)
	s.AddTool(feedbackTool.Definition(), feedbackTool.Handle)

	dedupTool := curatortools.NewDedupTool(c.KB, c.Deduper)
	s.AddTool(dedupTool.Definition(), dedupTool.Handle)

	resourceHandler := resources.NewHandler(c.KB, c.Feedback, c.DedupLog)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)
	s.AddResource(resourceHandler.DocumentsResource(), resourceHandler.HandleDocuments)

	return s, c.Close, nil
}

// noop is the default cleanup used when initialization fails early.
func noop() {}

// serverInstructions tells the client model when to reach for the
// curator instead of answering cold.
func serverInstructions() string {
	return `This server curates a persistent technical knowledge base.

Use curator_query for any technical question: it returns curated local
context, fetches and reviews external sources when local coverage is
weak, and cites every source URI. Prefer its context over guessing.

After an answer helped, call curator_feedback with action "adopt" on
the URIs you used — feedback drives future retrieval priority. Use
curator_ingest to store knowledge worth keeping, curator_status for a
health overview, and curator_dedup occasionally to fold near-duplicate
documents together.`
}
