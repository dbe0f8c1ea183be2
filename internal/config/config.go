// Package config collects every tunable constant of the curator into one
// immutable struct built at startup.
//
// The scoring heuristics deliberately read nothing from the environment
// themselves: all thresholds are resolved here once and threaded
// explicitly into each component. A .env file in the working directory
// is honored via godotenv before env vars are read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds paths, endpoints, model lists and heuristic thresholds.
// Construct it once with Load (or Default in tests) and treat it as
// read-only afterwards.
type Config struct {
	// ── Paths ──
	DataDir      string // SQLite knowledge store location
	CuratedDir   string // scratch dir for merged/ingested markdown
	DedupLogPath string // checked-pairs log (JSON)
	FeedbackPath string // feedback store (JSON)

	// ── Text-generation service ──
	ChatBaseURL  string   // OAI-compatible endpoint, e.g. https://host/v1
	ChatAPIKey   string
	JudgeModels  []string // ordered fallback list for judge calls
	MergeModels  []string // ordered fallback list for dedup merges
	SearchModels []string // ordered fallback list for external search

	// External search provider selection ("grok" or "oai") plus its
	// dedicated endpoint; empty base falls back to ChatBaseURL.
	SearchProvider string
	SearchBaseURL  string
	SearchAPIKey   string

	// ── Timeouts ──
	JudgeTimeout   time.Duration
	SearchTimeout  time.Duration
	MergeTimeout   time.Duration
	BackendTimeout time.Duration // blocking wait on the dispatch worker

	// ── Coverage assessment ──
	CovSufficient  float64 // local_sufficient band
	CovMarginal    float64 // local_marginal band
	LowCovStrict   float64 // trigger threshold for unknown topics
	LowCovRelaxed  float64 // trigger threshold for first-party topics
	CoreCovTrigger float64 // core-term coverage at or below this triggers
	LowTrust       float64 // avg top-trust below this counts as low quality
	LowFreshRatio  float64 // curated ratio below this counts as stale

	// Curated-content bonus. Hand-tuned against early query logs, kept
	// as config so they can be recalibrated rather than treated as
	// ground truth.
	CuratedOverlapRatio float64
	CuratedMinHits      int

	// ── Layered loading ──
	L0Sufficient float64 // top score needed to stop at abstracts
	L1Sufficient float64 // top score needed to stop at overviews
	MaxFullReads int     // L2 read() budget per query

	// ── Freshness / TTL ──
	TTLDays map[string]int // judge freshness label → ingestion TTL

	// ── Conflict handling ──
	ConflictStrategy string // auto | local | external | human

	// ── Dedup ──
	DedupThreshold float64 // merge pairs at or above this similarity
	DedupMaxDocs   int     // candidate window per scan

	// ── Scope routing ──
	FirstPartyTopics []string // topics with the relaxed coverage threshold
	GenericTerms     map[string]struct{}
}

// Default returns the configuration with the original pilot defaults.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".curator")
	return Config{
		DataDir:      filepath.Join(base, "data"),
		CuratedDir:   filepath.Join(base, "curated"),
		DedupLogPath: filepath.Join(base, "dedup_log.json"),
		FeedbackPath: filepath.Join(base, "feedback.json"),

		JudgeModels:  []string{"gemini-3-flash-preview", "gemini-3-flash-high"},
		MergeModels:  []string{"gemini-3-flash-preview", "gemini-3-flash-high"},
		SearchModels: []string{"grok-4-fast"},

		SearchProvider: "grok",

		JudgeTimeout:   90 * time.Second,
		SearchTimeout:  90 * time.Second,
		MergeTimeout:   30 * time.Second,
		BackendTimeout: 120 * time.Second,

		CovSufficient:  0.55,
		CovMarginal:    0.45,
		LowCovStrict:   0.45,
		LowCovRelaxed:  0.35,
		CoreCovTrigger: 0.4,
		LowTrust:       5.4,
		LowFreshRatio:  0.25,

		CuratedOverlapRatio: 0.25,
		CuratedMinHits:      3,

		L0Sufficient: 0.62,
		L1Sufficient: 0.5,
		MaxFullReads: 3,

		TTLDays: map[string]int{
			"current":  180,
			"recent":   90,
			"unknown":  60,
			"outdated": 0,
		},

		ConflictStrategy: "auto",

		DedupThreshold: 0.55,
		DedupMaxDocs:   10,

		FirstPartyTopics: []string{"newapi", "openviking", "grok2api", "mcp"},
		GenericTerms:     defaultGenericTerms(),
	}
}

// Load builds the config from a .env file (if present) and environment
// variables. Missing chat credentials are an error only when requireChat
// is set; read-only commands (status, rescan) work without them.
func Load(requireChat bool) (Config, error) {
	_ = godotenv.Load() // absent .env is fine

	cfg := Default()

	if v := env("CURATOR_DATA_PATH"); v != "" {
		cfg.DataDir = v
	}
	if v := env("CURATOR_CURATED_DIR"); v != "" {
		cfg.CuratedDir = v
	}
	if v := env("CURATOR_DEDUP_LOG"); v != "" {
		cfg.DedupLogPath = v
	}
	if v := env("CURATOR_FEEDBACK_FILE"); v != "" {
		cfg.FeedbackPath = v
	}

	cfg.ChatBaseURL = env("CURATOR_OAI_BASE")
	cfg.ChatAPIKey = env("CURATOR_OAI_KEY")
	if v := modelList(env("CURATOR_JUDGE_MODELS")); len(v) > 0 {
		cfg.JudgeModels = v
	}
	if v := modelList(env("CURATOR_MERGE_MODELS")); len(v) > 0 {
		cfg.MergeModels = v
	}
	if v := modelList(env("CURATOR_SEARCH_MODELS")); len(v) > 0 {
		cfg.SearchModels = v
	}
	if v := env("CURATOR_SEARCH_PROVIDER"); v != "" {
		cfg.SearchProvider = v
	}
	cfg.SearchBaseURL = env("CURATOR_SEARCH_BASE")
	cfg.SearchAPIKey = env("CURATOR_SEARCH_KEY")

	switch v := env("CURATOR_CONFLICT_STRATEGY"); v {
	case "":
	case "auto", "local", "external", "human":
		cfg.ConflictStrategy = v
	default:
		return cfg, fmt.Errorf("config: CURATOR_CONFLICT_STRATEGY must be auto, local, external or human, got %q", v)
	}

	floatVar(&cfg.CovSufficient, "CURATOR_THRESHOLD_COV_SUFFICIENT")
	floatVar(&cfg.CovMarginal, "CURATOR_THRESHOLD_COV_MARGINAL")
	floatVar(&cfg.LowCovStrict, "CURATOR_THRESHOLD_COV_LOW")
	floatVar(&cfg.LowCovRelaxed, "CURATOR_THRESHOLD_COV_LOW_RELAXED")
	floatVar(&cfg.L0Sufficient, "CURATOR_THRESHOLD_L0_SUFFICIENT")
	floatVar(&cfg.L1Sufficient, "CURATOR_THRESHOLD_L1_SUFFICIENT")
	floatVar(&cfg.CuratedOverlapRatio, "CURATOR_THRESHOLD_CURATED_OVERLAP")
	intVar(&cfg.CuratedMinHits, "CURATOR_THRESHOLD_CURATED_MIN_HITS")
	floatVar(&cfg.DedupThreshold, "CURATOR_DEDUP_THRESHOLD")
	intVar(&cfg.MaxFullReads, "CURATOR_MAX_FULL_READS")

	if requireChat {
		var missing []string
		if cfg.ChatBaseURL == "" {
			missing = append(missing, "CURATOR_OAI_BASE")
		}
		if cfg.ChatAPIKey == "" {
			missing = append(missing, "CURATOR_OAI_KEY")
		}
		if len(missing) > 0 {
			return cfg, fmt.Errorf("config: missing required env vars: %s (copy .env.example to .env and fill in keys)",
				strings.Join(missing, ", "))
		}
	}
	return cfg, nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func modelList(raw string) []string {
	var out []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func floatVar(dst *float64, name string) {
	if v := env(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func intVar(dst *int, name string) {
	if v := env(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// defaultGenericTerms is the stoplist separating core terms from generic
// ones: version numbers, years, superlatives and comparison words that
// appear across unrelated documents and therefore carry no topical
// evidence.
func defaultGenericTerms() map[string]struct{} {
	terms := []string{
		"2.0", "3.0", "1.0", "0.1", "2024", "2025", "2026", "最新", "latest",
		"对比", "比较", "区别", "最佳", "实践", "方案", "选型", "推荐",
		"怎么", "如何", "什么", "为什么", "哪些", "入门", "指南",
		"compare", "best", "practice", "guide", "tutorial", "how",
		"vs", "versus", "performance", "benchmark",
	}
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}

// IsGeneric reports whether a keyword belongs to the generic stoplist.
func (c Config) IsGeneric(term string) bool {
	_, ok := c.GenericTerms[strings.ToLower(term)]
	return ok
}
