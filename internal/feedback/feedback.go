// Package feedback keeps per-URI usefulness counters (up, down, adopt)
// in a JSON file shared between the MCP server and the CLI, and blends
// them with trust and freshness priors to rank candidate resources.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

// Counts are the raw counters for one URI.
type Counts struct {
	Up    int `json:"up"`
	Down  int `json:"down"`
	Adopt int `json:"adopt"`
}

// Score collapses counters into a signed usefulness value. Adoption
// weighs double: a resource actually used in an answer matters more
// than a thumbs-up.
func (c Counts) Score() int {
	return c.Up - c.Down + 2*c.Adopt
}

// Store is the file-backed feedback map. Reads and writes take a
// sibling .lock file so the CLI and server never clobber each other.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore returns a store backed by path; the file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

// Load reads the full feedback map. A missing or corrupt file is an
// empty map, never an error; feedback is advisory.
func (s *Store) Load() map[string]Counts {
	if err := s.lock.RLock(); err == nil {
		defer func() { _ = s.lock.Unlock() }()
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Counts{}
	}
	var data map[string]Counts
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]Counts{}
	}
	return data
}

// Apply increments one counter for a URI and persists the map.
func (s *Store) Apply(uri, action string) (Counts, error) {
	if action != "up" && action != "down" && action != "adopt" {
		return Counts{}, fmt.Errorf("feedback: action must be one of up, down, adopt")
	}

	if err := s.lock.Lock(); err != nil {
		return Counts{}, fmt.Errorf("feedback: lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data := s.loadUnlocked()
	c := data[uri]
	switch action {
	case "up":
		c.Up++
	case "down":
		c.Down++
	case "adopt":
		c.Adopt++
	}
	data[uri] = c

	if err := s.saveUnlocked(data); err != nil {
		return Counts{}, err
	}
	return c, nil
}

func (s *Store) loadUnlocked() map[string]Counts {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Counts{}
	}
	var data map[string]Counts
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]Counts{}
	}
	return data
}

func (s *Store) saveUnlocked(data map[string]Counts) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("feedback: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// ─── Scoring ─────────────────────────────────────────────────────────────────

// URIScore looks up feedback for a URI, falling back to the best score
// among fuzzy matches (one URI a path-prefix of the other, so feedback
// on a parent document benefits its sections and vice versa).
func URIScore(uri string, fb map[string]Counts) int {
	if c, ok := fb[uri]; ok {
		return c.Score()
	}
	best := 0
	for k, c := range fb {
		if strings.Contains(uri, k) || strings.Contains(k, uri) {
			if s := c.Score(); s > best {
				best = s
			}
		}
	}
	return best
}

// MaxScore returns the highest feedback score among uris.
func MaxScore(uris []string, fb map[string]Counts) int {
	max := 0
	for _, u := range uris {
		if s := URIScore(u, fb); s > max {
			max = s
		}
	}
	return max
}

// TrustPrior estimates source trust from the URI alone. First-party
// project material scores highest, curated imports next, boilerplate
// files lowest.
func TrustPrior(uri string) float64 {
	u := strings.ToLower(uri)
	switch {
	case strings.Contains(u, "openviking") || strings.Contains(u, "grok2api") || strings.Contains(u, "newapi"):
		return 7.0
	case strings.Contains(u, "curated"):
		return 6.5
	case strings.Contains(u, "license") || strings.Contains(u, "readme"):
		return 4.0
	default:
		return 5.5
	}
}

// Ranked is one URI with its blended priority components.
type Ranked struct {
	URI       string
	Priority  float64
	Feedback  int
	Trust     float64
	Freshness float64
}

// Rank orders URIs by blended priority: feedback dominates, trust
// second, a freshness prior third. freshness maps each URI to its
// decay score; a nil func uses 1.0 for every URI.
func Rank(uris []string, fb map[string]Counts, freshness func(string) float64, topN int) []Ranked {
	if freshness == nil {
		freshness = func(string) float64 { return 1.0 }
	}

	seen := map[string]bool{}
	var scored []Ranked
	for _, u := range uris {
		if seen[u] {
			continue
		}
		seen[u] = true
		r := Ranked{
			URI:       u,
			Feedback:  URIScore(u, fb),
			Trust:     TrustPrior(u),
			Freshness: freshness(u),
		}
		r.Priority = 0.50*float64(r.Feedback) + 0.30*r.Trust + 0.20*r.Freshness
		scored = append(scored, r)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Priority > scored[j].Priority
	})
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}
