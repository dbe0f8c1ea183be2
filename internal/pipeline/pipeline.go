// Package pipeline runs the full curation cycle for one query:
// route → retrieve → load → assess → external search → cross-validate
// → judge → resolve → ingest → dedup → session feedback. Each stage
// degrades independently; a dead model endpoint still yields a local
// answer context.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/coverage"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
	"github.com/ponsde/OpenViking-Curator/internal/freshness"
	"github.com/ponsde/OpenViking-Curator/internal/judge"
	"github.com/ponsde/OpenViking-Curator/internal/loader"
	"github.com/ponsde/OpenViking-Curator/internal/scope"
	"github.com/ponsde/OpenViking-Curator/internal/search"
)

// Judger abstracts the judge stage so tests can script verdicts.
type Judger interface {
	Review(ctx context.Context, query, localCtx, externalText string) judge.Result
}

// Deduper abstracts the incremental dedup stage.
type Deduper interface {
	Run(ctx context.Context, uris []string, maxChecks int, merge bool) (dedup.Report, error)
}

// Result is the outcome of one cycle.
type Result struct {
	Query    string   `json:"query"`
	Routed   bool     `json:"routed"`
	Reason   string   `json:"reason"` // gate reason, or trigger reason once routed
	Context  string   `json:"context"`
	UsedURIs []string `json:"used_uris"`
	Stage    string   `json:"stage"` // terminal loader tier

	Coverage          float64       `json:"coverage"`
	CoverageMeta      coverage.Meta `json:"coverage_meta"`
	ExternalTriggered bool          `json:"external_triggered"`
	ExternalText      string        `json:"external_text,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`

	Judge       *judge.Result     `json:"judge,omitempty"`
	Resolution  *judge.Resolution `json:"resolution,omitempty"`
	Ingested    bool              `json:"ingested"`
	IngestedURI string            `json:"ingested_uri,omitempty"`

	DedupChecked int `json:"dedup_checked"`
	DedupMerged  int `json:"dedup_merged"`
}

// Pipeline wires the curation stages together. Provider, validator,
// judger, deduper and index are all optional; a nil stage is skipped.
type Pipeline struct {
	cfg      *config.Config
	kb       backend.Knowledge
	fb       *feedback.Store
	assessor *coverage.Assessor
	loader   *loader.Loader
	index    *coverage.Index

	provider  search.Provider
	validator *search.Validator
	judger    Judger
	deduper   Deduper

	logger *zap.Logger
}

// Options carries the optional stages.
type Options struct {
	Index     *coverage.Index
	Provider  search.Provider
	Validator *search.Validator
	Judger    Judger
	Deduper   Deduper
}

// New assembles a pipeline; logger must not be nil.
func New(cfg *config.Config, kb backend.Knowledge, fb *feedback.Store, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		kb:        kb,
		fb:        fb,
		assessor:  coverage.NewAssessor(cfg, fb, opts.Index),
		loader:    loader.New(cfg, kb),
		index:     opts.Index,
		provider:  opts.Provider,
		validator: opts.Validator,
		judger:    opts.Judger,
		deduper:   opts.Deduper,
		logger:    logger,
	}
}

// Run executes one curation cycle. sessionID may be empty; when set,
// the query, answer context and used URIs are recorded against it.
func (p *Pipeline) Run(ctx context.Context, query string) (Result, error) {
	result := Result{Query: query}

	routed, gateReason := scope.Route(query)
	result.Routed = routed
	result.Reason = gateReason
	if !routed {
		p.logger.Info("cycle: gate rejected query", zap.String("reason", gateReason))
		return result, nil
	}

	hint := scope.Extract(query)
	p.logger.Info("cycle: routed",
		zap.String("domain", hint.Domain),
		zap.Strings("keywords", hint.Keywords),
		zap.Bool("need_fresh", hint.NeedFresh))

	sessionID := p.openSession(query)

	ret := p.retrieve(query, hint, sessionID)
	p.logger.Info("cycle: retrieved", zap.Int("items", len(ret.items)))

	loaded := p.loader.Load(ret.items, p.cfg.MaxFullReads)
	result.Context = loaded.Text
	result.UsedURIs = loaded.URIs
	result.Stage = loaded.Stage

	cov, meta := p.assessor.Assess(query, hint, ret.items, ret.previews)
	result.Coverage = cov
	result.CoverageMeta = meta

	needExternal, reason := coverage.Trigger(p.cfg, query, hint, cov, meta)
	result.Reason = reason
	result.ExternalTriggered = needExternal
	p.logger.Info("cycle: assessed",
		zap.Float64("coverage", cov),
		zap.String("reason", reason),
		zap.String("stage", loaded.Stage),
		zap.Int("used_uris", len(loaded.URIs)))

	if needExternal {
		p.external(ctx, query, hint, &result)
	}

	p.closeSession(sessionID, &result)
	return result, nil
}

// external runs search, cross-validation, judging and conditional
// ingestion. Failures log and leave the result partially filled.
func (p *Pipeline) external(ctx context.Context, query string, hint scope.Hint, result *Result) {
	if p.provider == nil {
		p.logger.Info("cycle: no search provider configured, skipping external")
		return
	}

	externalText, err := p.provider.Search(ctx, query, hint)
	if err != nil || strings.TrimSpace(externalText) == "" {
		p.logger.Warn("cycle: external search failed", zap.Error(err))
		return
	}
	p.logger.Info("cycle: external search done", zap.Int("chars", len(externalText)))

	if p.validator != nil {
		cv := p.validator.Validate(ctx, query, externalText)
		externalText = cv.Validated
		result.Warnings = cv.Warnings
		if cv.HighRisk > 0 {
			p.logger.Info("cycle: cross-validation flagged claims",
				zap.Int("high_risk", cv.HighRisk),
				zap.Bool("followup", cv.FollowupDone))
		}
	}
	result.ExternalText = externalText

	if p.judger == nil {
		return
	}
	verdict := p.judger.Review(ctx, query, result.Context, externalText)
	resolution := judge.Resolve(verdict, p.cfg.ConflictStrategy)
	result.Judge = &verdict
	result.Resolution = &resolution
	p.logger.Info("cycle: judged",
		zap.Bool("pass", verdict.Pass),
		zap.Int("trust", verdict.Trust),
		zap.String("freshness", verdict.Freshness),
		zap.Bool("conflict", verdict.HasConflict),
		zap.String("strategy", resolution.Strategy))

	if !judge.ShouldIngest(verdict, resolution) {
		return
	}

	uri, err := p.ingest(verdict)
	if err != nil {
		p.logger.Warn("cycle: ingest failed", zap.Error(err))
		return
	}
	result.Ingested = true
	result.IngestedURI = uri
	p.logger.Info("cycle: ingested", zap.String("uri", uri))

	if p.deduper != nil {
		// opportunistic scan only reports; merging needs an explicit request
		uris := append([]string{uri}, result.UsedURIs...)
		report, err := p.deduper.Run(ctx, uris, 3, false)
		if err != nil {
			p.logger.Warn("cycle: dedup failed", zap.Error(err))
			return
		}
		result.DedupChecked = report.Checked
		result.DedupMerged = report.Merged
	}
}

// ingest stamps the freshness header and stores the judged markdown
// as a curated document, mirroring it to the curated scratch dir for
// later freshness rescans.
func (p *Pipeline) ingest(verdict judge.Result) (string, error) {
	stamped := freshness.StampHeader(verdict.Markdown, verdict.Freshness, timeNow())
	title := verdict.Summary
	if title == "" {
		title = firstWords(verdict.Markdown, 8)
	}
	uri, err := p.kb.Ingest(stamped, "curated_"+title, map[string]string{
		"source":    "external_search",
		"freshness": verdict.Freshness,
		"trust":     fmt.Sprintf("%d", verdict.Trust),
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: ingest: %w", err)
	}
	p.mirrorCurated(uri, stamped)
	return uri, nil
}

// mirrorCurated writes the stamped markdown under CuratedDir, named
// after the document URI. Best-effort: a failed write never blocks the
// ingest that already happened.
func (p *Pipeline) mirrorCurated(uri, stamped string) {
	if p.cfg.CuratedDir == "" {
		return
	}
	name := strings.ReplaceAll(strings.TrimPrefix(uri, "viking://resources/"), "/", "_") + ".md"
	if err := os.MkdirAll(p.cfg.CuratedDir, 0o755); err != nil {
		p.logger.Warn("cycle: curated dir unavailable", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(p.cfg.CuratedDir, name), []byte(stamped), 0o644); err != nil {
		p.logger.Warn("cycle: curated copy failed", zap.Error(err))
	}
}

func (p *Pipeline) openSession(query string) string {
	id, err := p.kb.CreateSession()
	if err != nil || id == "" {
		return ""
	}
	if err := p.kb.AddMessage(id, "user", query); err != nil {
		p.logger.Warn("cycle: session message failed", zap.Error(err))
	}
	return id
}

func (p *Pipeline) closeSession(sessionID string, result *Result) {
	if sessionID == "" {
		return
	}
	if len(result.UsedURIs) > 0 {
		if err := p.kb.MarkUsed(sessionID, result.UsedURIs); err != nil {
			p.logger.Warn("cycle: mark used failed", zap.Error(err))
		}
	}
	if _, err := p.kb.Commit(sessionID); err != nil {
		p.logger.Warn("cycle: session commit failed", zap.Error(err))
	}
}

func firstWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
