package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/coverage"
	"github.com/ponsde/OpenViking-Curator/internal/dedup"
	"github.com/ponsde/OpenViking-Curator/internal/feedback"
	"github.com/ponsde/OpenViking-Curator/internal/judge"
	"github.com/ponsde/OpenViking-Curator/internal/scope"
)

type fakeProvider struct {
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Search(_ context.Context, _ string, _ scope.Hint) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeJudger struct {
	verdict judge.Result
	calls   int
}

func (f *fakeJudger) Review(_ context.Context, _, _, _ string) judge.Result {
	f.calls++
	return f.verdict
}

type fakeDeduper struct {
	report dedup.Report
	uris   []string
	merge  bool
}

func (f *fakeDeduper) Run(_ context.Context, uris []string, _ int, merge bool) (dedup.Report, error) {
	f.uris = uris
	f.merge = merge
	return f.report, nil
}

func newTestPipeline(t *testing.T, store *backend.MemoryStore, opts Options) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.CuratedDir = filepath.Join(t.TempDir(), "curated")
	fb := feedback.NewStore(filepath.Join(t.TempDir(), "feedback.json"))
	return New(&cfg, store, fb, opts, zap.NewNop())
}

func TestRunGateRejectsShortQuery(t *testing.T) {
	p := newTestPipeline(t, backend.NewMemoryStore(), Options{})

	result, err := p.Run(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if result.Routed {
		t.Error("short query should not route")
	}
	if result.Reason != scope.ReasonTooShort {
		t.Errorf("reason = %s, want %s", result.Reason, scope.ReasonTooShort)
	}
	if result.ExternalTriggered || result.Context != "" {
		t.Error("gate rejection must stop the cycle before retrieval")
	}
}

func TestRunLocalSufficientSkipsExternal(t *testing.T) {
	store := backend.NewMemoryStore()
	store.Put("viking://resources/curated_nginx",
		"Deploy nginx as a reverse proxy: point upstream to the app server, "+
			"and check 502 bad gateway errors when the upstream is down.")
	store.Put("viking://resources/curated_nginx_tls",
		"Deploy nginx with TLS termination: the upstream app server stays on "+
			"plain HTTP behind the reverse proxy.")
	provider := &fakeProvider{text: "should not be called"}
	p := newTestPipeline(t, store, Options{Provider: provider})

	result, err := p.Run(context.Background(), "how to deploy nginx")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Routed {
		t.Fatal("query should route")
	}
	if result.ExternalTriggered {
		t.Errorf("external triggered with coverage %.2f, reason %s", result.Coverage, result.Reason)
	}
	if result.Reason != coverage.ReasonLocalSufficient {
		t.Errorf("reason = %s, want %s", result.Reason, coverage.ReasonLocalSufficient)
	}
	if provider.calls != 0 {
		t.Error("provider must not be called when local knowledge suffices")
	}
	if len(result.UsedURIs) == 0 || !strings.Contains(result.Context, "viking://resources/curated_nginx") {
		t.Errorf("context missing source block: %q", result.Context)
	}
}

func TestRunExternalSearchAndIngest(t *testing.T) {
	store := backend.NewMemoryStore()
	provider := &fakeProvider{text: "nginx 1.27 added native ACME support for automatic certificates."}
	judger := &fakeJudger{verdict: judge.Result{
		Pass:      true,
		Trust:     8,
		Freshness: "current",
		Summary:   "nginx acme support",
		Markdown:  "# nginx ACME\n\nNative ACME support landed in 1.27.",
	}}
	deduper := &fakeDeduper{report: dedup.Report{Checked: 1}}
	p := newTestPipeline(t, store, Options{Provider: provider, Judger: judger, Deduper: deduper})

	result, err := p.Run(context.Background(), "how to deploy nginx")
	if err != nil {
		t.Fatal(err)
	}
	if !result.ExternalTriggered || result.Reason != coverage.ReasonNoResults {
		t.Fatalf("empty store should trigger external: %+v", result)
	}
	if judger.calls != 1 {
		t.Fatalf("judge called %d times, want 1", judger.calls)
	}
	if result.Resolution == nil || result.Resolution.Strategy != judge.StrategyNoConflict {
		t.Errorf("resolution = %+v, want no_conflict", result.Resolution)
	}
	if !result.Ingested || result.IngestedURI == "" {
		t.Fatalf("verdict should be ingested: %+v", result)
	}

	content, err := store.Read(result.IngestedURI)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "curator_meta") || !strings.Contains(content, "review_after") {
		t.Errorf("ingested doc missing freshness header:\n%s", content)
	}
	if !strings.Contains(content, "Native ACME support") {
		t.Error("ingested doc missing judged markdown")
	}

	entries, err := os.ReadDir(p.cfg.CuratedDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("curated dir copy missing: entries=%v err=%v", entries, err)
	}
	copied, err := os.ReadFile(filepath.Join(p.cfg.CuratedDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(copied), "Native ACME support") {
		t.Error("curated dir copy missing judged markdown")
	}

	if result.DedupChecked != 1 {
		t.Errorf("dedup checked = %d, want 1", result.DedupChecked)
	}
	if len(deduper.uris) == 0 || deduper.uris[0] != result.IngestedURI {
		t.Errorf("deduper should see the fresh uri first: %v", deduper.uris)
	}
	if deduper.merge {
		t.Error("post-ingest dedup scan must never request a merge")
	}
}

func TestRunJudgeFailBlocksIngest(t *testing.T) {
	provider := &fakeProvider{text: "some external result text"}
	judger := &fakeJudger{verdict: judge.Result{Pass: false, Reason: "low quality", Freshness: "unknown"}}
	p := newTestPipeline(t, backend.NewMemoryStore(), Options{Provider: provider, Judger: judger})

	result, err := p.Run(context.Background(), "how to deploy nginx")
	if err != nil {
		t.Fatal(err)
	}
	if result.Ingested {
		t.Error("failed verdict must not ingest")
	}
	if result.Judge == nil || result.Judge.Pass {
		t.Errorf("judge verdict missing from result: %+v", result.Judge)
	}
}

func TestRunConflictPreferLocalBlocksIngest(t *testing.T) {
	provider := &fakeProvider{text: "conflicting external claim"}
	judger := &fakeJudger{verdict: judge.Result{
		Pass:        true,
		Trust:       2,
		Freshness:   "current",
		Markdown:    "# claim",
		HasConflict: true,
	}}
	p := newTestPipeline(t, backend.NewMemoryStore(), Options{Provider: provider, Judger: judger})

	result, err := p.Run(context.Background(), "how to deploy nginx")
	if err != nil {
		t.Fatal(err)
	}
	if result.Resolution == nil || result.Resolution.Preferred != judge.PreferLocal {
		t.Fatalf("low-trust conflict should prefer local: %+v", result.Resolution)
	}
	if result.Ingested {
		t.Error("local-preferred conflict must not ingest")
	}
}

func TestRunSearchFailureDegrades(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("endpoint down")}
	judger := &fakeJudger{}
	p := newTestPipeline(t, backend.NewMemoryStore(), Options{Provider: provider, Judger: judger})

	result, err := p.Run(context.Background(), "how to deploy nginx")
	if err != nil {
		t.Fatal(err)
	}
	if !result.ExternalTriggered {
		t.Error("trigger decision should be recorded even when search fails")
	}
	if result.ExternalText != "" || judger.calls != 0 {
		t.Error("failed search must not reach the judge")
	}
}

func TestRunNoProviderSkipsExternal(t *testing.T) {
	p := newTestPipeline(t, backend.NewMemoryStore(), Options{})
	result, err := p.Run(context.Background(), "how to deploy nginx")
	if err != nil {
		t.Fatal(err)
	}
	if result.ExternalText != "" || result.Ingested {
		t.Errorf("no provider configured, cycle should stay local: %+v", result)
	}
}

func TestExpandQuery(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"mcp server setup", "mcp server setup MCP Model Context Protocol"},
		{"k8s pod pending", "k8s pod pending Kubernetes K8s"},
		{"nginx reverse proxy", "nginx reverse proxy"},
		// ci/cd outranks other abbreviations it contains
		{"ci/cd pipeline basics", "ci/cd pipeline basics CI/CD Continuous Integration Continuous Deployment"},
	}
	for _, c := range cases {
		if got := ExpandQuery(c.query); got != c.want {
			t.Errorf("ExpandQuery(%q) = %q, want %q", c.query, got, c.want)
		}
	}
}

func TestRetrieveFiltersNoise(t *testing.T) {
	store := backend.NewMemoryStore()
	store.Put("viking://resources/curated_nginx", "nginx reverse proxy deploy upstream configuration")
	store.Put("viking://resources/tmp/scratch", "nginx reverse proxy deploy notes")
	store.Put("viking://memories/old", "nginx reverse proxy deploy memory")
	p := newTestPipeline(t, store, Options{})

	ret := p.retrieve("how to deploy nginx", scope.Extract("how to deploy nginx"), "")
	if len(ret.items) != 1 || ret.items[0].URI != "viking://resources/curated_nginx" {
		t.Fatalf("retrieve kept noise or non-resource URIs: %+v", ret.items)
	}
}

func TestRetrieveIndexBackstop(t *testing.T) {
	store := backend.NewMemoryStore() // vector search finds nothing
	index := coverage.NewIndex(map[string]coverage.IndexEntry{
		"viking://resources/curated_nginx": {
			Title:   "nginx operations",
			Preview: "nginx reverse proxy deploy upstream 502",
		},
	})
	p := newTestPipeline(t, store, Options{Index: index})

	ret := p.retrieve("how to deploy nginx", scope.Extract("how to deploy nginx"), "")
	if len(ret.items) != 1 {
		t.Fatalf("index backstop did not fill in: %+v", ret.items)
	}
	if len(ret.previews) != 1 || !strings.Contains(ret.previews[0], "upstream") {
		t.Errorf("backstop preview missing: %v", ret.previews)
	}
}

func TestRetrievePreviewsTopItemContent(t *testing.T) {
	store := backend.NewMemoryStore()
	long := "nginx reverse proxy deploy upstream keepalive tuning " + strings.Repeat("配置 ", 2000)
	store.Put("viking://resources/curated_nginx", long)
	p := newTestPipeline(t, store, Options{})

	ret := p.retrieve("how to deploy nginx", scope.Extract("how to deploy nginx"), "")
	if len(ret.previews) != 1 {
		t.Fatalf("previews = %v, want the item's content excerpt", ret.previews)
	}
	if !strings.Contains(ret.previews[0], "keepalive tuning") {
		t.Errorf("preview missing document content: %q", ret.previews[0][:60])
	}
	if n := len([]rune(ret.previews[0])); n > 1500 {
		t.Errorf("preview is %d runes, want at most 1500", n)
	}
}
