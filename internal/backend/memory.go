package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Knowledge backend with naive substring
// search. It backs tests and the degraded mode where no database is
// available; scoring is keyword overlap, not FTS ranking.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*memDoc
	seq  int
	NoSessions
}

type memDoc struct {
	Title    string
	Content  string
	Metadata map[string]string
	Created  time.Time
}

// NewMemoryStore returns an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]*memDoc{}}
}

func (m *MemoryStore) Health() bool { return true }

func (m *MemoryStore) Find(query string, limit int) (Response, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))

	m.mu.Lock()
	defer m.mu.Unlock()

	var items []Item
	for uri, d := range m.docs {
		score := overlapScore(terms, strings.ToLower(d.Title+" "+d.Content))
		if score <= 0 {
			continue
		}
		items = append(items, Item{
			URI:         uri,
			Abstract:    Truncate(d.Content, 350),
			Score:       score,
			ContextType: "resource",
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].URI < items[j].URI
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return Response{Items: items, Total: len(items)}, nil
}

func (m *MemoryStore) Search(query string, limit int, sessionID string) (Response, error) {
	return m.Find(query, limit)
}

func (m *MemoryStore) Abstract(uri string) (string, error) {
	d, err := m.get(uri)
	if err != nil {
		return "", err
	}
	return Truncate(d.Content, 350), nil
}

func (m *MemoryStore) Overview(uri string) (string, error) {
	d, err := m.get(uri)
	if err != nil {
		return "", err
	}
	return Truncate(d.Content, 2000), nil
}

func (m *MemoryStore) Read(uri string) (string, error) {
	d, err := m.get(uri)
	if err != nil {
		return "", err
	}
	return d.Content, nil
}

func (m *MemoryStore) Ingest(content, title string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("backend: ingest: empty content")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	uri := fmt.Sprintf("viking://resources/%d_%s", time.Now().Unix(), slugify(title))
	if _, dup := m.docs[uri]; dup {
		uri = fmt.Sprintf("%s_%d", uri, m.seq)
	}
	m.docs[uri] = &memDoc{Title: title, Content: content, Metadata: metadata, Created: time.Now()}
	return uri, nil
}

// Put stores content under an exact URI, overwriting any existing doc.
func (m *MemoryStore) Put(uri, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[uri] = &memDoc{Title: uri, Content: content, Created: time.Now()}
}

func (m *MemoryStore) Delete(uri string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[uri]; !ok {
		return false, nil
	}
	delete(m.docs, uri)
	return true, nil
}

func (m *MemoryStore) ListResources(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var uris []string
	for uri := range m.docs {
		if strings.HasPrefix(uri, prefix) {
			uris = append(uris, uri)
		}
	}
	sort.Strings(uris)
	return uris, nil
}

func (m *MemoryStore) get(uri string) (*memDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[uri]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// overlapScore is the fraction of query terms found in the document.
func overlapScore(terms []string, haystack string) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
