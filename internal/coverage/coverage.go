// Package coverage decides how well the local knowledge base answers a
// query, and whether external search is worth triggering. Scoring is
// fully deterministic: keyword coverage over retrieved text, with
// penalties when generic terms inflate the signal and bonuses when our
// own curated documents match.
package coverage

import (
	"regexp"
	"strings"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
	"github.com/ponsde/OpenViking-Curator/internal/scope"
)

// Meta carries the assessment internals alongside the coverage score;
// the trigger policy and the cycle report both read it.
type Meta struct {
	Reason        string   `json:"reason"`
	KwCov         float64  `json:"kw_cov"`
	CoreCov       float64  `json:"core_cov"`
	DomainHit     bool     `json:"domain_hit"`
	EvidenceRatio float64  `json:"evidence_ratio"`
	Relevance     float64  `json:"relevance"`
	URIScopeHit   bool     `json:"uri_scope_hit"`
	MaxFeedback   int      `json:"max_feedback_score"`
	AvgTopTrust   float64  `json:"avg_top_trust"`
	FreshRatio    float64  `json:"fresh_ratio"`
	TargetTerms   []string `json:"target_terms,omitempty"`
	URIs          []string `json:"uris,omitempty"`
	PriorityURIs  []string `json:"priority_uris,omitempty"`
}

// anchors expand high-frequency internal topics into the terms their
// documents actually contain; hand-maintained, keyed by query substring.
var anchors = []struct {
	key   string
	terms []string
}{
	{"newapi", []string{"newapi", "oneapi", "openai", "api gateway"}},
	{"oneapi", []string{"newapi", "oneapi", "openai"}},
	{"mcp", []string{"mcp", "model context protocol", "tool server"}},
	{"nginx", []string{"nginx", "reverse proxy", "upstream", "502", "bad gateway"}},
	{"docker", []string{"docker", "container", "dockerfile"}},
	{"git", []string{"git", "rebase", "cherry-pick", "reflog"}},
	{"openviking", []string{"openviking", "viking", "agfs", "contextual filesystem"}},
	{"grok2api", []string{"grok2api", "grok", "auto register", "curated"}},
	{"asyncio", []string{"asyncio", "coroutine", "event loop", "await"}},
	{"github actions", []string{"github actions", "ci/cd", "workflow", "yaml"}},
	{"rag", []string{"rag", "retrieval", "chunk", "rerank", "embedding"}},
	{"kubernetes", []string{"kubernetes", "k8s", "pod", "crashloopbackoff"}},
	{"systemd", []string{"systemd", "systemctl", "service", "unit file"}},
	{"claude", []string{"claude", "anthropic", "openai", "api compatibility"}},
	{"向量数据库", []string{"vector database", "milvus", "chroma", "qdrant", "weaviate"}},
}

// curatedTags mark URIs of documents we ingested ourselves.
var curatedTags = []string{"curated", "single_", "reingest_", "fix_", "re2_"}

var (
	queryTokenRegex    = regexp.MustCompile(`[a-z0-9_\-]{2,}`)
	evidenceTermRegex  = regexp.MustCompile(`[a-z0-9_\-]{3,}`)
	queryTermEnRegex   = regexp.MustCompile(`[a-zA-Z0-9_\-]{3,}`)
	queryTermCJKRegex  = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{3,4}`)
	indexTermCJKRegex  = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,}`)
	evidenceStopwords  = map[string]bool{"what": true, "with": true, "from": true, "that": true}
)

// Assessor scores local retrieval results.
type Assessor struct {
	cfg   *config.Config
	fb    *feedback.Store
	index *Index // optional keyword-index fallback, may be nil
}

// NewAssessor builds an assessor; index may be nil when no local
// keyword index exists.
func NewAssessor(cfg *config.Config, fb *feedback.Store, index *Index) *Assessor {
	return &Assessor{cfg: cfg, fb: fb, index: index}
}

// Assess scores how well items cover the query. previews are content
// excerpts for the top items (may be shorter than items). Returns the
// coverage on [0, 1] and the assessment internals.
func (a *Assessor) Assess(query string, hint scope.Hint, items []backend.Item, previews []string) (float64, Meta) {
	if len(items) == 0 {
		return 0, Meta{Reason: ReasonNoResults}
	}

	ql := strings.ToLower(query)

	scored := false
	var uris, abstracts []string
	for _, it := range items {
		uris = append(uris, it.URI)
		abstracts = append(abstracts, it.Abstract)
		if it.Score > 0 {
			scored = true
		}
	}

	// keyword list: scope keywords, query tokens, anchor expansions
	var kw []string
	for _, k := range head(hint.Keywords, 6) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	kw = append(kw, head(queryTokenRegex.FindAllString(ql, -1), 6)...)

	var targetTerms []string
	for _, an := range anchors {
		if strings.Contains(ql, an.key) {
			kw = append(kw, an.terms...)
			targetTerms = append(targetTerms, an.terms...)
		}
	}
	kw = head(dedupe(kw), 16)
	targetTerms = dedupe(targetTerms)

	// core terms carry the real relevance signal; generic terms appear
	// in every other document and prove nothing
	var coreKw []string
	for _, k := range kw {
		if !a.cfg.IsGeneric(k) && len(k) >= 2 {
			coreKw = append(coreKw, k)
		}
	}

	relevanceText := strings.ToLower(
		strings.Join(head(uris, 8), "\n") + "\n" +
			strings.Join(head(abstracts, 5), "\n") + "\n" +
			strings.Join(previews, "\n"),
	)

	kwCov := hitRatio(kw, relevanceText, strings.Contains)

	coreCov := kwCov
	if len(coreKw) > 0 {
		coreCov = hitRatio(coreKw, relevanceText, coreMatch)
		// generic terms inflated kwCov while core terms missed
		if coreCov < 0.3 && kwCov > 0.5 {
			kwCov *= 0.3
		}
	}

	fullText := strings.ToLower(
		strings.Join(uris, " ") + " " + strings.Join(abstracts, " ") + " " + strings.Join(previews, " "),
	)
	domainHit := false
	for _, t := range targetTerms {
		if strings.Contains(fullText, t) {
			domainHit = true
			break
		}
	}

	relevance, evidenceRatio, uriScopeHit := deterministicRelevance(query, hint, relevanceText, uris, domainHit, kwCov)

	effectiveDomainHit := domainHit ||
		(uriScopeHit && evidenceRatio >= 0.2) ||
		(relevance >= 0.55 && coreCov >= 0.3)

	// weak evidence but high keyword coverage means noise
	if evidenceRatio < 0.15 && kwCov > 0.5 {
		kwCov *= 0.35
	}

	var cov float64
	base := kwCov
	if relevance > base {
		base = relevance
	}
	if len(coreKw) > 0 && coreCov < 0.2 {
		if effectiveDomainHit {
			cov = min2(base, 0.25)
		} else {
			cov = min2(base, 0.10)
		}
	} else if effectiveDomainHit {
		cov = base
	} else {
		cov = min2(base, 0.18)
	}

	// hits on our own curated docs mean the knowledge base genuinely
	// holds this topic
	var curatedURIs []string
	for _, u := range uris {
		if isCurated(u) {
			curatedURIs = append(curatedURIs, u)
		}
	}
	if len(curatedURIs) > 0 {
		overlap, ratio := curatedOverlap(query, previews, a.cfg)
		if ratio >= a.cfg.CuratedOverlapRatio || overlap >= a.cfg.CuratedMinHits {
			bonus := 0.10 * float64(min2Int(len(curatedURIs), 3))
			if cov < 0.40 {
				cov = 0.40
			}
			cov = min2(cov+bonus, 1.0)
		}
	}

	// keyword index backstop for when vector retrieval misses a doc
	// the index clearly holds
	if cov < 0.45 && a.index != nil {
		if a.index.StrongMatch(query, kw) {
			if cov < 0.50 {
				cov = 0.50
			}
		}
	}

	fb := a.fb.Load()
	maxFb := feedback.MaxScore(head(uris, 20), fb)
	if maxFb > 0 {
		cov = min2(cov+0.08*float64(maxFb), 1.0)
	}

	ranked := feedback.Rank(uris, fb, nil, 5)
	var priorityURIs []string
	for _, r := range head(ranked, 3) {
		priorityURIs = append(priorityURIs, r.URI)
	}
	avgTrust := 0.0
	if n := len(head(ranked, 3)); n > 0 {
		for _, r := range ranked[:n] {
			avgTrust += r.Trust
		}
		avgTrust /= float64(n)
	}

	freshRatio := 0.0
	if len(uris) > 0 {
		denom := len(uris)
		if denom > 8 {
			denom = 8
		}
		freshRatio = float64(len(curatedURIs)) / float64(denom)
	}

	return cov, Meta{
		Reason:        a.band(cov, len(items), scored),
		KwCov:         round3(kwCov),
		CoreCov:       round3(coreCov),
		DomainHit:     effectiveDomainHit,
		EvidenceRatio: round3(evidenceRatio),
		Relevance:     round3(relevance),
		URIScopeHit:   uriScopeHit,
		MaxFeedback:   maxFb,
		AvgTopTrust:   round3(avgTrust),
		FreshRatio:    round3(freshRatio),
		TargetTerms:   head(targetTerms, 6),
		URIs:          head(uris, 8),
		PriorityURIs:  priorityURIs,
	}
}

// band maps the final score onto the coverage reason bands. The
// sufficient band additionally requires two or more items; a single
// strong hit only ever reads as marginal.
func (a *Assessor) band(cov float64, nItems int, scored bool) string {
	switch {
	case !scored:
		return ReasonNoScores
	case cov >= a.cfg.CovSufficient && nItems >= 2:
		return ReasonLocalSufficient
	case cov >= a.cfg.CovMarginal:
		return ReasonLocalMarginal
	case cov >= a.cfg.LowCovRelaxed:
		return ReasonLowCoverage
	default:
		return ReasonInsufficient
	}
}

// deterministicRelevance blends keyword coverage, query-term evidence
// in the retrieved text, and a domain/URI hit into one score.
func deterministicRelevance(query string, hint scope.Hint, text string, uris []string, domainHit bool, kwCov float64) (relevance, evidenceRatio float64, uriScopeHit bool) {
	var terms []string
	for _, t := range evidenceTermRegex.FindAllString(strings.ToLower(query), -1) {
		if !evidenceStopwords[t] {
			terms = append(terms, t)
		}
	}
	for _, k := range head(hint.Keywords, 8) {
		terms = append(terms, strings.ToLower(k))
	}
	terms = head(dedupe(terms), 12)

	hits := 0
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			hits++
		}
	}
	denom := len(terms)
	if denom < 1 {
		denom = 1
	}
	evidenceRatio = float64(hits) / float64(denom)

	uriText := strings.ToLower(strings.Join(uris, " "))
	scopeTerms := append([]string{strings.ToLower(hint.Domain)}, lowerAll(head(hint.Keywords, 4))...)
	for _, t := range scopeTerms {
		if t != "" && strings.Contains(uriText, t) {
			uriScopeHit = true
			break
		}
	}

	hit := 0.0
	if domainHit || uriScopeHit {
		hit = 1.0
	}
	relevance = 0.55*kwCov + 0.30*evidenceRatio + 0.15*hit
	return relevance, evidenceRatio, uriScopeHit
}

// coreMatch requires word boundaries for short terms so "bun" cannot
// hit inside "ubuntu".
func coreMatch(text, term string) bool {
	if len(term) > 4 {
		return strings.Contains(text, term)
	}
	for idx := 0; ; {
		i := strings.Index(text[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isASCIILower(text[start-1])
		afterOK := end >= len(text) || !isASCIILower(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isASCIILower(b byte) bool { return b >= 'a' && b <= 'z' }

func curatedOverlap(query string, previews []string, cfg *config.Config) (int, float64) {
	termSet := map[string]bool{}
	for _, t := range queryTermEnRegex.FindAllString(strings.ToLower(query), -1) {
		if !cfg.IsGeneric(t) {
			termSet[t] = true
		}
	}
	for _, t := range queryTermCJKRegex.FindAllString(query, -1) {
		if !cfg.IsGeneric(t) {
			termSet[t] = true
		}
	}

	previewText := strings.ToLower(strings.Join(previews, " "))
	hits := 0
	for t := range termSet {
		if strings.Contains(previewText, strings.ToLower(t)) {
			hits++
		}
	}
	denom := len(termSet)
	if denom < 1 {
		denom = 1
	}
	return hits, float64(hits) / float64(denom)
}

func isCurated(uri string) bool {
	ul := strings.ToLower(uri)
	for _, tag := range curatedTags {
		if strings.Contains(ul, tag) {
			return true
		}
	}
	return false
}

// ─── Trigger policy ──────────────────────────────────────────────────────────

// Coverage reason codes. Assess reports the score band; Trigger keeps
// it or replaces it with the specific trigger reason.
const (
	ReasonNoResults       = "no_results"
	ReasonNoScores        = "no_scores"
	ReasonLocalSufficient = "local_sufficient"
	ReasonLocalMarginal   = "local_marginal"
	ReasonLowCoverage     = "low_coverage"
	ReasonLowCoreCoverage = "low_core_coverage"
	ReasonInsufficient    = "insufficient"
	ReasonFreshnessBoost  = "freshness_or_quality_boost"
	ReasonNoFeedback      = "need_fresh_no_positive_feedback"
)

// Trigger decides whether to run external search. The coverage
// threshold relaxes for first-party topics the knowledge base is known
// to hold, cutting repeat external searches.
func Trigger(cfg *config.Config, query string, hint scope.Hint, cov float64, meta Meta) (bool, string) {
	// empty or unscored retrievals always trigger, no other signal needed
	switch meta.Reason {
	case ReasonNoResults, ReasonNoScores:
		return true, meta.Reason
	}

	ql := strings.ToLower(query)

	needFresh := hint.NeedFresh
	if !needFresh {
		for _, cue := range []string{"最新", "更新", "release", "changelog", "2026", "2025"} {
			if strings.Contains(ql, cue) {
				needFresh = true
				break
			}
		}
	}

	lowQuality := meta.AvgTopTrust < cfg.LowTrust
	lowFresh := meta.FreshRatio < cfg.LowFreshRatio
	weakFeedback := meta.MaxFeedback <= 0

	threshold := cfg.LowCovStrict
	for _, topic := range cfg.FirstPartyTopics {
		if strings.Contains(ql, topic) {
			threshold = cfg.LowCovRelaxed
			break
		}
	}

	switch {
	case cov < threshold:
		if meta.Reason == ReasonInsufficient {
			return true, ReasonInsufficient
		}
		return true, ReasonLowCoverage
	case meta.CoreCov <= cfg.CoreCovTrigger:
		return true, ReasonLowCoreCoverage
	case needFresh && (lowFresh || lowQuality):
		return true, ReasonFreshnessBoost
	case needFresh && weakFeedback && lowQuality:
		return true, ReasonNoFeedback
	case meta.Reason == ReasonLocalMarginal:
		return false, ReasonLocalMarginal
	default:
		return false, ReasonLocalSufficient
	}
}

// ─── small helpers ───────────────────────────────────────────────────────────

func hitRatio(terms []string, text string, match func(string, string) bool) float64 {
	hits := 0
	for _, t := range terms {
		if t != "" && match(text, t) {
			hits++
		}
	}
	denom := len(terms)
	if denom < 1 {
		denom = 1
	}
	return float64(hits) / float64(denom)
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func dedupe(s []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range s {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func lowerAll(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = strings.ToLower(v)
	}
	return out
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func min2Int(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
