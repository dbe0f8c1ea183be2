package backend

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore is the production knowledge backend: SQLite with FTS5
// full-text search over ingested documents, plus session tracking.
type SQLiteStore struct {
	db *sql.DB
}

// Stats holds aggregate store statistics for the status surface.
type Stats struct {
	TotalResources int `json:"total_resources"`
	TotalSessions  int `json:"total_sessions"`
}

// OpenSQLite opens (creating if needed) the store under dataDir with
// WAL mode and runs migrations.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("backend: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "knowledge.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("backend: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("backend: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("backend: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS resources (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uri        TEXT    NOT NULL UNIQUE,
			title      TEXT    NOT NULL,
			abstract   TEXT    NOT NULL DEFAULT '',
			overview   TEXT    NOT NULL DEFAULT '',
			content    TEXT    NOT NULL,
			metadata   TEXT    NOT NULL DEFAULT '{}',
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_res_uri     ON resources(uri);
		CREATE INDEX IF NOT EXISTS idx_res_created ON resources(created_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS resources_fts USING fts5(
			title,
			abstract,
			content,
			content='resources',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			started_at   TEXT NOT NULL DEFAULT (datetime('now')),
			committed_at TEXT
		);

		CREATE TABLE IF NOT EXISTS session_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS session_used (
			session_id TEXT NOT NULL,
			uri        TEXT NOT NULL,
			UNIQUE (session_id, uri),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS triggers (idempotent)
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='res_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER res_fts_insert AFTER INSERT ON resources BEGIN
				INSERT INTO resources_fts(rowid, title, abstract, content)
				VALUES (new.id, new.title, new.abstract, new.content);
			END;

			CREATE TRIGGER res_fts_delete AFTER DELETE ON resources BEGIN
				INSERT INTO resources_fts(resources_fts, rowid, title, abstract, content)
				VALUES ('delete', old.id, old.title, old.abstract, old.content);
			END;

			CREATE TRIGGER res_fts_update AFTER UPDATE ON resources BEGIN
				INSERT INTO resources_fts(resources_fts, rowid, title, abstract, content)
				VALUES ('delete', old.id, old.title, old.abstract, old.content);
				INSERT INTO resources_fts(rowid, title, abstract, content)
				VALUES (new.id, new.title, new.abstract, new.content);
			END;
		`
		if _, err := s.db.Exec(triggers); err != nil {
			return err
		}
	} else if err != nil && err != sql.ErrNoRows {
		return err
	}

	return nil
}

// ─── Knowledge: retrieval ────────────────────────────────────────────────────

// Health reports whether the database answers a trivial query.
func (s *SQLiteStore) Health() bool {
	var one int
	return s.db.QueryRow("SELECT 1").Scan(&one) == nil
}

// Find performs FTS5 search over titles, abstracts and content.
// An empty or whitespace-only query falls back to recent resources.
func (s *SQLiteStore) Find(query string, limit int) (Response, error) {
	if limit <= 0 {
		limit = 10
	}

	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return s.recent(limit)
	}

	rows, err := s.db.Query(`
		SELECT r.uri, r.abstract, fts.rank
		FROM resources_fts fts
		JOIN resources r ON r.id = fts.rowid
		WHERE resources_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?`,
		ftsQuery, limit,
	)
	if err != nil {
		return Response{}, fmt.Errorf("backend: find: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resp Response
	for rows.Next() {
		var it Item
		var rank float64
		if err := rows.Scan(&it.URI, &it.Abstract, &rank); err != nil {
			return Response{}, err
		}
		it.Score = normalizeRank(rank)
		it.ContextType = "resource"
		resp.Items = append(resp.Items, it)
	}
	resp.Total = len(resp.Items)
	return resp, rows.Err()
}

// Search is the richer retrieval path. For the SQLite backend it is the
// same FTS search; when a session is supplied the query is recorded so
// later commits can extract it.
func (s *SQLiteStore) Search(query string, limit int, sessionID string) (Response, error) {
	if sessionID != "" {
		_ = s.AddMessage(sessionID, "user", query) // best-effort
	}
	return s.Find(query, limit)
}

// recent returns the newest resources without FTS, used as fallback
// when the query has no searchable tokens.
func (s *SQLiteStore) recent(limit int) (Response, error) {
	rows, err := s.db.Query(
		`SELECT uri, abstract FROM resources ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return Response{}, fmt.Errorf("backend: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resp Response
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.URI, &it.Abstract); err != nil {
			return Response{}, err
		}
		it.ContextType = "resource"
		resp.Items = append(resp.Items, it)
	}
	resp.Total = len(resp.Items)
	return resp, rows.Err()
}

// Abstract returns the short summary of a resource.
func (s *SQLiteStore) Abstract(uri string) (string, error) {
	return s.column("abstract", uri)
}

// Overview returns the medium summary of a resource.
func (s *SQLiteStore) Overview(uri string) (string, error) {
	return s.column("overview", uri)
}

// Read returns the full content of a resource.
func (s *SQLiteStore) Read(uri string) (string, error) {
	return s.column("content", uri)
}

func (s *SQLiteStore) column(col, uri string) (string, error) {
	// col is always one of the fixed column names above
	var v string
	err := s.db.QueryRow(
		"SELECT "+col+" FROM resources WHERE uri = ?", uri,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("backend: read %s: %w", uri, err)
	}
	return v, nil
}

// ─── Knowledge: ingestion ────────────────────────────────────────────────────

// Ingest stores a document, deriving abstract and overview tiers from
// the content, and returns its viking:// URI. The URI embeds the ingest
// timestamp so freshness scoring can recover document age later.
func (s *SQLiteStore) Ingest(content, title string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("backend: ingest: empty content")
	}
	if title == "" {
		title = firstLine(content)
	}

	uri := fmt.Sprintf("viking://resources/%d_%s", time.Now().Unix(), slugify(title))

	meta := "{}"
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO resources (uri, title, abstract, overview, content, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uri, title, Truncate(content, 350), Truncate(content, 2000), content, meta,
	)
	if err != nil {
		return "", fmt.Errorf("backend: ingest: %w", err)
	}
	return uri, nil
}

// Delete removes a resource by URI.
func (s *SQLiteStore) Delete(uri string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM resources WHERE uri = ?`, uri)
	if err != nil {
		return false, fmt.Errorf("backend: delete %s: %w", uri, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListResources lists URIs, optionally filtered by prefix.
func (s *SQLiteStore) ListResources(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT uri FROM resources WHERE uri LIKE ? ORDER BY created_at DESC`,
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("backend: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var uris []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		uris = append(uris, u)
	}
	return uris, rows.Err()
}

// Metadata returns the stored metadata map for a resource.
func (s *SQLiteStore) Metadata(uri string) (map[string]string, error) {
	raw, err := s.column("metadata", uri)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("backend: metadata %s: %w", uri, err)
	}
	return out, nil
}

// Stats returns aggregate store statistics.
func (s *SQLiteStore) Stats() (Stats, error) {
	var st Stats
	_ = s.db.QueryRow("SELECT COUNT(*) FROM resources").Scan(&st.TotalResources)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&st.TotalSessions)
	return st, nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// CreateSession opens a new tracking session.
func (s *SQLiteStore) CreateSession() (string, error) {
	id := "sess-" + uuid.NewString()[:12]
	if _, err := s.db.Exec(`INSERT INTO sessions (id) VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("backend: create session: %w", err)
	}
	return id, nil
}

// AddMessage records a message in the session.
func (s *SQLiteStore) AddMessage(sessionID, role, text string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO session_messages (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, role, text,
	)
	if err != nil {
		return fmt.Errorf("backend: add message: %w", err)
	}
	return nil
}

// MarkUsed flags resources consulted in this session.
func (s *SQLiteStore) MarkUsed(sessionID string, uris []string) error {
	if sessionID == "" || len(uris) == 0 {
		return nil
	}
	for _, u := range uris {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO session_used (session_id, uri) VALUES (?, ?)`,
			sessionID, u,
		); err != nil {
			return fmt.Errorf("backend: mark used: %w", err)
		}
	}
	return nil
}

// Commit closes the session and reports how many resources it touched.
func (s *SQLiteStore) Commit(sessionID string) (CommitResult, error) {
	if sessionID == "" {
		return CommitResult{}, nil
	}
	var used int
	_ = s.db.QueryRow(
		"SELECT COUNT(*) FROM session_used WHERE session_id = ?", sessionID,
	).Scan(&used)

	_, err := s.db.Exec(
		`UPDATE sessions SET committed_at = datetime('now') WHERE id = ?`, sessionID,
	)
	if err != nil {
		return CommitResult{}, fmt.Errorf("backend: commit session: %w", err)
	}
	return CommitResult{ActiveCountUpdated: used}, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// normalizeRank maps an FTS5 bm25 rank (more negative = better) onto
// (0, 1). Tiny ranks stay strictly positive so a genuine match never
// normalizes to a zero score.
func normalizeRank(rank float64) float64 {
	rel := -rank
	if rel <= 0 {
		return 0
	}
	return rel / (rel + 1.0)
}

// Truncate shortens a string to at most max bytes plus ellipsis,
// backing off to a rune boundary so multibyte text is never split.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func firstLine(content string) string {
	line := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	line = strings.TrimLeft(strings.TrimSpace(line), "# ")
	return Truncate(line, 80)
}

var slugRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func slugify(title string) string {
	slug := slugRegex.ReplaceAllString(title, "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "doc"
	}
	return slug
}

// sanitizeFTS wraps each word in quotes for safe FTS5 queries.
// "fix auth bug" → `"fix" "auth" "bug"`
func sanitizeFTS(query string) string {
	var words []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, `"`)
		if w == "" {
			continue
		}
		words = append(words, `"`+w+`"`)
	}
	return strings.Join(words, " ")
}
