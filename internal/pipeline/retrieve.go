package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/scope"
)

// abbrMap expands short abbreviations that semantic retrieval tends to
// drown out. First match wins.
var abbrMap = []struct{ abbr, full string }{
	{"ci/cd", "CI/CD Continuous Integration Continuous Deployment"},
	{"mcp", "MCP Model Context Protocol"},
	{"rag", "RAG Retrieval-Augmented Generation"},
	{"k8s", "Kubernetes K8s"},
	{"llm", "LLM Large Language Model"},
	{"vlm", "VLM Vision Language Model"},
	{"oom", "OOM Out Of Memory OOMKilled"},
}

// ExpandQuery appends the full form of the first abbreviation found in
// the query; unchanged when none match.
func ExpandQuery(query string) string {
	ql := strings.ToLower(query)
	for _, e := range abbrMap {
		if strings.Contains(ql, e.abbr) {
			return query + " " + e.full
		}
	}
	return query
}

// noisePatterns mark URIs that never carry topical knowledge: scratch
// files and boilerplate sections every ingested manual has.
var noisePatterns = []string{
	"viking://resources/tmp", "/tmp", "tmpr", "快速上手",
	"许可证", "核心理念", "前置要求", "/document/content",
}

func isNoise(uri string) bool {
	ul := strings.ToLower(uri)
	for _, p := range noisePatterns {
		if strings.Contains(ul, p) {
			return true
		}
	}
	return false
}

// retrieval is the candidate set handed to coverage and the loader.
type retrieval struct {
	items    []backend.Item
	previews []string // content excerpts for the top candidates
}

// previewRunes bounds how much of a document feeds the coverage text.
const previewRunes = 1500

// retrieve runs the dual search: an expanded keyword-annotated query
// plus the plain expanded query when the abbreviation map fired, with
// results unioned by URI. The keyword index backstops empty or flaky
// vector retrieval. Noise URIs and anything outside viking://resources
// are dropped.
func (p *Pipeline) retrieve(query string, hint scope.Hint, sessionID string) retrieval {
	expanded := ExpandQuery(query)
	annotated := expanded + "\n关键词:" + strings.Join(head(hint.Keywords, 8), ",")

	queries := []string{annotated}
	if expanded != query {
		queries = append(queries, expanded)
	}

	var items []backend.Item
	seen := map[string]bool{}
	for _, q := range queries {
		res, err := p.kb.Search(q, 10, sessionID)
		if err != nil {
			p.logger.Warn("retrieve: search failed", zap.Error(err))
			continue
		}
		for _, it := range res.Items {
			if it.URI == "" || seen[it.URI] {
				continue
			}
			seen[it.URI] = true
			items = append(items, it)
		}
	}

	// keyword-index backstop for unstable retrieval
	indexPreviews := map[string]string{}
	if p.index != nil {
		for _, hit := range p.index.Search(query, hint.Keywords, 5) {
			if seen[hit.URI] {
				continue
			}
			seen[hit.URI] = true
			items = append(items, backend.Item{URI: hit.URI, ContextType: "resource"})
			indexPreviews[hit.URI] = hit.Preview
		}
	}

	var kept []backend.Item
	for _, it := range items {
		if strings.HasPrefix(it.URI, "viking://resources") && !isNoise(it.URI) {
			kept = append(kept, it)
		}
	}

	// content previews for the top candidates; a failed read falls back
	// to the stored index preview, or skips the URI
	var previews []string
	for _, it := range head(kept, 5) {
		content, err := p.kb.Read(it.URI)
		if err != nil || strings.TrimSpace(content) == "" {
			if pv := indexPreviews[it.URI]; pv != "" {
				previews = append(previews, pv)
			}
			continue
		}
		previews = append(previews, clipPreview(content, previewRunes))
	}
	return retrieval{items: kept, previews: previews}
}

func clipPreview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
