// Package backend defines the knowledge-store interface the curator
// governs, plus the production SQLite implementation and an in-memory
// test double.
//
// The curator needs a store that can search by semantic query, read
// content at three granularities (abstract → overview → full text) and
// ingest new documents. Anything implementing Knowledge can be plugged
// in; session tracking and deletion are optional and default to no-ops.
package backend

import "errors"

// ErrNotFound is returned when a URI does not resolve to a resource.
var ErrNotFound = errors.New("backend: resource not found")

// Item is a single search hit from the knowledge store.
type Item struct {
	URI         string  `json:"uri"`
	Abstract    string  `json:"abstract"`
	Overview    string  `json:"overview,omitempty"`
	FullText    string  `json:"full_text,omitempty"` // lazily populated by the loader
	Score       float64 `json:"score"`               // backend relevance, 0..1
	ContextType string  `json:"context_type"`        // "resource", "memory" or "skill"
}

// Response aggregates search results, ranked best-first.
type Response struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// CommitResult is returned by a session commit.
type CommitResult struct {
	MemoriesExtracted  int  `json:"memories_extracted"`
	ActiveCountUpdated int  `json:"active_count_updated"`
	Archived           bool `json:"archived"`
}

// Knowledge is the storage interface the governance engine consumes.
//
// Required operations: Health, Find, Search, Abstract, Overview, Read,
// Ingest. The rest are optional; embed NoSessions to decline session
// tracking.
type Knowledge interface {
	// Health reports whether the store is reachable and ready.
	Health() bool

	// Find is plain semantic/lexical search with no query planning.
	Find(query string, limit int) (Response, error)

	// Search is the richer (possibly slower) retrieval path. Backends
	// without a separate path delegate to Find. sessionID may be empty.
	Search(query string, limit int, sessionID string) (Response, error)

	// Abstract returns the short (~100 token) summary of a resource.
	Abstract(uri string) (string, error)

	// Overview returns the medium (~2k token) summary of a resource.
	Overview(uri string) (string, error)

	// Read returns the full content of a resource.
	Read(uri string) (string, error)

	// Ingest stores new content and returns its URI.
	Ingest(content, title string, metadata map[string]string) (string, error)

	// Delete removes a resource. Optional; return false if unsupported.
	Delete(uri string) (bool, error)

	// ListResources lists URIs under a prefix. Optional; may return nil.
	ListResources(prefix string) ([]string, error)

	Sessions
}

// Sessions is the optional usage-tracking surface.
type Sessions interface {
	// CreateSession opens a tracking session; empty id means unsupported.
	CreateSession() (string, error)

	// AddMessage records a user or assistant message.
	AddMessage(sessionID, role, text string) error

	// MarkUsed flags resources actually consulted in the session.
	MarkUsed(sessionID string, uris []string) error

	// Commit closes out the session and extracts memories.
	Commit(sessionID string) (CommitResult, error)
}

// NoSessions declines session tracking. Embed it in backends that have
// no usage-tracking support.
type NoSessions struct{}

func (NoSessions) CreateSession() (string, error)           { return "", nil }
func (NoSessions) AddMessage(string, string, string) error  { return nil }
func (NoSessions) MarkUsed(string, []string) error          { return nil }
func (NoSessions) Commit(string) (CommitResult, error)      { return CommitResult{}, nil }
