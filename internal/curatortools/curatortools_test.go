package curatortools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
	"github.com/ponsde/OpenViking-Curator/internal/pipeline"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func newTestFeedback(t *testing.T) *feedback.Store {
	t.Helper()
	return feedback.NewStore(filepath.Join(t.TempDir(), "feedback.json"))
}

func newTestPipeline(t *testing.T, store *backend.MemoryStore) *pipeline.Pipeline {
	t.Helper()
	cfg := config.Default()
	return pipeline.New(&cfg, store, newTestFeedback(t), pipeline.Options{}, zap.NewNop())
}

// ─── QueryTool ───────────────────────────────────────────────────────────────

func TestQueryTool_Definition(t *testing.T) {
	def := NewQueryTool(nil).Definition()
	if def.Name != "curator_query" {
		t.Errorf("tool name = %q, want curator_query", def.Name)
	}
	if _, ok := def.InputSchema.Properties["query"]; !ok {
		t.Error("missing 'query' parameter")
	}
}

func TestQueryTool_RequiresQuery(t *testing.T) {
	tool := NewQueryTool(newTestPipeline(t, backend.NewMemoryStore()))
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("empty query should return a tool error")
	}
}

func TestQueryTool_UnroutedQuery(t *testing.T) {
	tool := NewQueryTool(newTestPipeline(t, backend.NewMemoryStore()))
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"query": "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "not routed") {
		t.Errorf("unrouted query should say so, got %q", text)
	}
}

func TestQueryTool_LocalAnswer(t *testing.T) {
	store := backend.NewMemoryStore()
	store.Put("viking://resources/curated_nginx",
		"Deploy nginx as a reverse proxy: point upstream to the app server, "+
			"and check 502 bad gateway errors when the upstream is down.")
	tool := NewQueryTool(newTestPipeline(t, store))

	res, err := tool.Handle(context.Background(),
		makeReq(map[string]interface{}{"query": "how to deploy nginx"}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "viking://resources/curated_nginx") {
		t.Errorf("answer missing source block: %q", text)
	}
	if !strings.Contains(text, "coverage:") {
		t.Errorf("answer missing cycle summary: %q", text)
	}
}

// ─── IngestTool ──────────────────────────────────────────────────────────────

func TestIngestTool_StampsAndStores(t *testing.T) {
	store := backend.NewMemoryStore()
	tool := NewIngestTool(store)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"content":   "# Redis persistence\n\nRDB snapshots plus AOF.",
		"freshness": "current",
	}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "viking://resources/") {
		t.Fatalf("expected stored URI, got %q", text)
	}
	if !strings.Contains(text, "ttl: 180 days") {
		t.Errorf("current label should carry a 180 day ttl: %q", text)
	}

	uris, _ := store.ListResources("viking://resources")
	if len(uris) != 1 {
		t.Fatalf("resources = %v, want one", uris)
	}
	content, _ := store.Read(uris[0])
	if !strings.Contains(content, "curator_meta") || !strings.Contains(content, "freshness=current") {
		t.Errorf("stored doc missing metadata header:\n%s", content)
	}
}

func TestIngestTool_RejectsBadLabel(t *testing.T) {
	tool := NewIngestTool(backend.NewMemoryStore())
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"content":   "text",
		"freshness": "brand_new",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("invalid freshness label should be rejected")
	}
}

func TestFirstTitle(t *testing.T) {
	cases := []struct{ content, want string }{
		{"# Redis persistence\n\nbody", "Redis persistence"},
		{"\n\nplain first line\nsecond", "plain first line"},
		{"", "untitled"},
	}
	for _, c := range cases {
		if got := firstTitle(c.content); got != c.want {
			t.Errorf("firstTitle(%q) = %q, want %q", c.content, got, c.want)
		}
	}
}

// ─── StatusTool ──────────────────────────────────────────────────────────────

func TestStatusTool_Reports(t *testing.T) {
	store := backend.NewMemoryStore()
	store.Put("viking://resources/curated_nginx", "nginx config notes")
	store.Put("viking://resources/raw_doc", "raw manual")

	fb := newTestFeedback(t)
	if _, err := fb.Apply("viking://resources/curated_nginx", "adopt"); err != nil {
		t.Fatal(err)
	}

	log := dedup.NewLog(filepath.Join(t.TempDir(), "dedup_log.json"))
	tool := NewStatusTool(store, fb, log)

	res, err := tool.Handle(context.Background(), makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	for _, want := range []string{
		"**Backend**: ok",
		"**Resources**: 2 (1 curated)",
		"**Feedback**: 1 entries (1 positive)",
		"**Dedup**: 0 pairs checked",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("status missing %q:\n%s", want, text)
		}
	}
}

// ─── FeedbackTool ────────────────────────────────────────────────────────────

func TestFeedbackTool_Apply(t *testing.T) {
	tool := NewFeedbackTool(newTestFeedback(t))

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"uri":    "viking://resources/curated_nginx",
		"action": "adopt",
	}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "score 2") {
		t.Errorf("adopt should score 2, got %q", text)
	}
}

func TestFeedbackTool_RejectsUnknownAction(t *testing.T) {
	tool := NewFeedbackTool(newTestFeedback(t))
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"uri":    "viking://resources/x",
		"action": "love",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("unknown action should fail")
	}
}

// ─── DedupTool ───────────────────────────────────────────────────────────────

func TestDedupTool_Run(t *testing.T) {
	store := backend.NewMemoryStore()
	base := "Docker Compose configuration guide. Use a compose.yaml file to declare " +
		"services, networks and volumes and start the stack with docker compose up."
	store.Put("viking://resources/curated_a", base+" First copy.")
	store.Put("viking://resources/curated_b", base+" Second copy.")

	log := dedup.NewLog(filepath.Join(t.TempDir(), "dedup_log.json"))
	deduper := dedup.New(store, log, nil, 0, 0, zap.NewNop())
	tool := NewDedupTool(store, deduper)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"max_checks": float64(5)}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "Checked 1 pairs") {
		t.Errorf("dedup summary wrong: %q", text)
	}
	if !strings.Contains(text, "similar:") {
		t.Errorf("near-identical docs should be reported: %q", text)
	}
}
