package coverage

import (
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Index is a plain keyword index over curated documents, kept as a
// JSON file next to the data directory. It backstops vector retrieval:
// when the backend misses a document the index clearly holds, coverage
// gets a floor instead of triggering a pointless external search.
type Index struct {
	entries map[string]IndexEntry
}

// IndexEntry is one indexed document.
type IndexEntry struct {
	Title   string `json:"title"`
	Preview string `json:"preview"`
}

// Hit is one index match with its keyword hit count.
type Hit struct {
	URI     string
	Hits    int
	Preview string
}

var indexTokenRegex = regexp.MustCompile(`[a-z0-9_\-]{2,}`)

// LoadIndex reads the index file. A missing or unreadable file yields
// a nil Index, which disables the fallback.
func LoadIndex(path string) *Index {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries map[string]IndexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return &Index{entries: entries}
}

// NewIndex builds an in-memory index, used by tests and the ingest path.
func NewIndex(entries map[string]IndexEntry) *Index {
	return &Index{entries: entries}
}

// Search returns the top documents by query-term hit count.
func (ix *Index) Search(query string, keywords []string, topN int) []Hit {
	if ix == nil || len(ix.entries) == 0 {
		return nil
	}

	terms := map[string]bool{}
	for _, t := range indexTokenRegex.FindAllString(strings.ToLower(query), -1) {
		terms[t] = true
	}
	for _, t := range indexTermCJKRegex.FindAllString(query, -1) {
		terms[t] = true
	}
	for _, k := range keywords {
		if k != "" {
			terms[strings.ToLower(k)] = true
		}
	}

	var hits []Hit
	for uri, e := range ix.entries {
		text := strings.ToLower(e.Title + " " + e.Preview)
		n := 0
		for t := range terms {
			if strings.Contains(text, t) {
				n++
			}
		}
		if n > 0 {
			preview := e.Preview
			if len(preview) > 1500 {
				preview = preview[:1500]
			}
			hits = append(hits, Hit{URI: uri, Hits: n, Preview: preview})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Hits != hits[j].Hits {
			return hits[i].Hits > hits[j].Hits
		}
		return hits[i].URI < hits[j].URI
	})
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits
}

// StrongMatch reports whether the index holds a document that matches
// the query well: at least 3 keyword hits overall and at least 2 of
// the combined terms present in the best document's preview.
func (ix *Index) StrongMatch(query string, keywords []string) bool {
	hits := ix.Search(query, keywords, 5)
	if len(hits) == 0 || hits[0].Hits < 3 {
		return false
	}

	terms := map[string]bool{}
	for _, k := range keywords {
		if k != "" {
			terms[strings.ToLower(k)] = true
		}
	}
	for _, t := range indexTermCJKRegex.FindAllString(query, -1) {
		terms[t] = true
	}

	preview := strings.ToLower(hits[0].Preview)
	overlap := 0
	for t := range terms {
		if strings.Contains(preview, t) {
			overlap++
		}
	}
	return overlap >= 2
}
