package backend

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteIngestAndRead(t *testing.T) {
	s := newTestStore(t)

	content := "# Deploy Guide\nUse docker compose up to start the stack."
	uri, err := s.Ingest(content, "Deploy Guide", map[string]string{"source": "manual"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !strings.HasPrefix(uri, "viking://resources/") {
		t.Errorf("uri = %q, want viking://resources/ prefix", uri)
	}

	got, err := s.Read(uri)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != content {
		t.Errorf("Read = %q, want original content", got)
	}

	abs, err := s.Abstract(uri)
	if err != nil {
		t.Fatalf("Abstract: %v", err)
	}
	if len(abs) > 353 { // 350 + ellipsis
		t.Errorf("abstract too long: %d bytes", len(abs))
	}

	meta, err := s.Metadata(uri)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["source"] != "manual" {
		t.Errorf("metadata source = %q, want manual", meta["source"])
	}
}

func TestSQLiteIngestEmptyContent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Ingest("   ", "x", nil); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestSQLiteFindRanksMatches(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Ingest("docker compose deployment with nginx reverse proxy", "Docker deployment", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Ingest("postgres tuning notes for large tables", "Postgres tuning", nil); err != nil {
		t.Fatal(err)
	}

	resp, err := s.Find("docker deployment", 10)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("Total = %d, want 1", resp.Total)
	}
	it := resp.Items[0]
	if !strings.Contains(it.URI, "Docker_deployment") {
		t.Errorf("matched wrong doc: %s", it.URI)
	}
	if it.Score <= 0 || it.Score > 1 {
		t.Errorf("score out of range: %v", it.Score)
	}
}

func TestSQLiteFindEmptyQueryFallsBackToRecent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Ingest("some knowledge", "note", nil); err != nil {
		t.Fatal(err)
	}

	resp, err := s.Find("   ", 5)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("Total = %d, want 1 recent doc", resp.Total)
	}
}

func TestSQLiteDelete(t *testing.T) {
	s := newTestStore(t)
	uri, err := s.Ingest("throwaway", "tmp", nil)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Delete(uri)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v; want true, nil", ok, err)
	}
	if _, err := s.Read(uri); err != ErrNotFound {
		t.Errorf("Read after delete: err = %v, want ErrNotFound", err)
	}

	ok, err = s.Delete(uri)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second delete reported true")
	}
}

func TestSQLiteSessions(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !strings.HasPrefix(id, "sess-") {
		t.Errorf("session id = %q, want sess- prefix", id)
	}

	if err := s.AddMessage(id, "user", "how do I deploy?"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := s.MarkUsed(id, []string{"viking://resources/1_a", "viking://resources/1_a", "viking://resources/2_b"}); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	res, err := s.Commit(id)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// duplicate URI collapses
	if res.ActiveCountUpdated != 2 {
		t.Errorf("ActiveCountUpdated = %d, want 2", res.ActiveCountUpdated)
	}
}

func TestMemoryStoreFind(t *testing.T) {
	m := NewMemoryStore()
	uri, err := m.Ingest("how to configure nginx reverse proxy", "nginx", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Ingest("unrelated cooking recipe", "recipe", nil); err != nil {
		t.Fatal(err)
	}

	resp, err := m.Find("nginx proxy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Items[0].URI != uri {
		t.Fatalf("Find returned %+v, want only %s", resp.Items, uri)
	}
	if resp.Items[0].Score != 1.0 {
		t.Errorf("score = %v, want 1.0 for full overlap", resp.Items[0].Score)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.Read("viking://resources/none"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDispatcherSerializesCalls(t *testing.T) {
	d := NewDispatcher(NewMemoryStore(), 5*time.Second)
	defer d.Close()

	uri, err := d.Ingest("dispatcher content", "disp", nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	got, err := d.Read(uri)
	if err != nil || got != "dispatcher content" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if !d.Health() {
		t.Error("Health = false")
	}
}

func TestDispatcherTimeout(t *testing.T) {
	slow := &slowBackend{MemoryStore: NewMemoryStore(), delay: 200 * time.Millisecond}
	d := NewDispatcher(slow, 20*time.Millisecond)
	defer d.Close()

	if _, err := d.Find("q", 1); err != ErrBackendTimeout {
		t.Errorf("err = %v, want ErrBackendTimeout", err)
	}
}

type slowBackend struct {
	*MemoryStore
	delay time.Duration
}

func (s *slowBackend) Find(query string, limit int) (Response, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Find(query, limit)
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 7, "this is..."},
		// cut lands mid-rune, the whole character goes
		{"部署指南文档", 7, "部署..."},
		{"部署指南", 12, "部署指南"},
	}
	for _, c := range cases {
		got := Truncate(c.in, c.max)
		if got != c.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) returned invalid UTF-8", c.in, c.max)
		}
	}
}

func TestNormalizeRank(t *testing.T) {
	if got := normalizeRank(0); got != 0 {
		t.Errorf("normalizeRank(0) = %v, want 0", got)
	}
	if got := normalizeRank(-3.14e-06); got <= 0 || got > 1 {
		t.Errorf("normalizeRank(-3.14e-06) = %v, want strictly positive", got)
	}
	if normalizeRank(-9) <= normalizeRank(-1) {
		t.Error("a better (more negative) rank must score higher")
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Deploy Guide", "Deploy_Guide"},
		{"", "doc"},
		{"   !!!   ", "doc"},
		{"a/b c", "a_b_c"},
	}
	for _, c := range cases {
		if got := slugify(c.in); got != c.want {
			t.Errorf("slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
