package dedup

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
)

func TestTokens(t *testing.T) {
	got := Tokens("Docker 容器编排 with compose-v2 和 kubernetes")
	want := map[string]bool{
		"docker": true, "with": true, "compose-v2": true, "kubernetes": true,
	}
	for w := range want {
		if !got[w] {
			t.Errorf("missing token %q in %v", w, got)
		}
	}
	// CJK runs are split into short chunks
	cjk := 0
	for tok := range got {
		if strings.ContainsAny(tok, "容器编排和") {
			cjk++
		}
	}
	if cjk == 0 {
		t.Errorf("expected CJK tokens, got %v", got)
	}
	if got["a"] || got["to"] {
		t.Errorf("tokens shorter than 3 ascii chars should be dropped: %v", got)
	}
}

func TestSimilarityIdentical(t *testing.T) {
	doc := "Docker Compose lets you define multi-container applications in a single YAML file."
	if sim := Similarity(doc, doc); sim != 1.0 {
		t.Fatalf("Similarity(A, A) = %v, want 1.0", sim)
	}
}

func TestSimilarityDisjoint(t *testing.T) {
	a := "postgres replication failover streaming archive"
	b := "frontend webpack bundler minify sourcemap"
	if sim := Similarity(a, b); sim > 0.3 {
		t.Fatalf("disjoint docs similarity = %v, want low", sim)
	}
}

func TestSimilarityJaccardGate(t *testing.T) {
	// token overlap below 0.3 must return raw jaccard, skipping the
	// expensive sequence comparison entirely
	a := "alpha bravo charlie delta echo foxtrot golf hotel india juliet"
	b := "alpha kilo lima mike november oscar papa quebec romeo sierra"
	sim := Similarity(a, b)
	if sim >= 0.3 {
		t.Fatalf("similarity = %v, want < 0.3 (jaccard gate)", sim)
	}
}

func TestSimilarityEmpty(t *testing.T) {
	if sim := Similarity("", "anything"); sim != 0 {
		t.Fatalf("empty doc similarity = %v, want 0", sim)
	}
}

func TestSequenceRatio(t *testing.T) {
	if r := SequenceRatio("", ""); r != 1.0 {
		t.Fatalf("ratio of two empty strings = %v, want 1.0", r)
	}
	if r := SequenceRatio("abcd", "abcd"); r != 1.0 {
		t.Fatalf("ratio of identical strings = %v, want 1.0", r)
	}
	// matches difflib: 2*3 / (4+5) for "abcd" vs "bcde" common "bcd"
	if r := SequenceRatio("abcd", "bcdef"); r < 0.65 || r > 0.68 {
		t.Fatalf("ratio = %v, want ~0.667", r)
	}
}

func TestPairKeyOrderIndependent(t *testing.T) {
	a, b := "viking://curated/x", "viking://curated/y"
	if PairKey(a, b) != PairKey(b, a) {
		t.Fatal("pair key must not depend on argument order")
	}
	if PairKey(a, b) != a+"|"+b {
		t.Fatalf("pair key = %q", PairKey(a, b))
	}
}

// fakeMerger records calls and returns a fixed merged doc.
type fakeMerger struct {
	calls int
	fail  bool
}

func (m *fakeMerger) Merge(_ context.Context, _, a, _, b string) (string, error) {
	m.calls++
	if m.fail {
		return "", fmt.Errorf("model unavailable")
	}
	return "# merged\n\n" + a[:20] + "\n" + b[:20], nil
}

func seedStore(t *testing.T, docs map[string]string) *backend.MemoryStore {
	t.Helper()
	store := backend.NewMemoryStore()
	for uri, content := range docs {
		store.Put(uri, content)
	}
	return store
}

func dup(marker string) string {
	base := "Docker Compose configuration guide. Use a compose.yaml file to declare " +
		"services, networks and volumes. Run docker compose up -d to start the stack " +
		"in the background and docker compose logs -f to follow output."
	return base + " " + marker
}

func TestRunMergesSimilarPair(t *testing.T) {
	store := seedStore(t, map[string]string{
		"viking://curated/1700000001_compose": dup("first"),
		"viking://curated/1700000002_compose": dup("second"),
	})
	merger := &fakeMerger{}
	log := NewLog(filepath.Join(t.TempDir(), "dedup_log.json"))
	d := New(store, log, merger, 0, 0, zap.NewNop())

	report, err := d.Run(context.Background(), []string{
		"viking://curated/1700000001_compose",
		"viking://curated/1700000002_compose",
	}, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 1 || report.Merged != 1 {
		t.Fatalf("report = %+v, want 1 checked / 1 merged", report)
	}
	if merger.calls != 1 {
		t.Fatalf("merger called %d times, want 1", merger.calls)
	}
	for _, old := range []string{"viking://curated/1700000001_compose", "viking://curated/1700000002_compose"} {
		if _, err := store.Read(old); err == nil {
			t.Errorf("original %s should be deleted after merge", old)
		}
	}

	state := log.load()
	if len(state.Merged) != 1 {
		t.Fatalf("merged log = %+v, want one record", state.Merged)
	}
	if state.Merged[0].MergedURI == "" {
		t.Error("merge record missing merged uri")
	}
	if _, err := store.Read(state.Merged[0].MergedURI); err != nil {
		t.Errorf("merged doc not readable: %v", err)
	}
}

func TestRunWithoutMergeOnlyReports(t *testing.T) {
	store := seedStore(t, map[string]string{
		"viking://curated/a": dup("a"),
		"viking://curated/b": dup("b"),
	})
	merger := &fakeMerger{}
	d := New(store, NewLog(filepath.Join(t.TempDir(), "log.json")), merger, 0, 0, zap.NewNop())

	report, err := d.Run(context.Background(), []string{
		"viking://curated/a", "viking://curated/b",
	}, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if merger.calls != 0 {
		t.Fatalf("merger called %d times without opt-in, want 0", merger.calls)
	}
	if report.Merged != 0 {
		t.Fatalf("merged %d, want 0 without opt-in", report.Merged)
	}
	if len(report.Details) != 1 || !strings.Contains(report.Details[0], "similar:") {
		t.Fatalf("similar pair not reported: %+v", report.Details)
	}
	for _, uri := range []string{"viking://curated/a", "viking://curated/b"} {
		if _, err := store.Read(uri); err != nil {
			t.Errorf("%s must survive a report-only scan", uri)
		}
	}
}

func TestRunSkipsCheckedPairs(t *testing.T) {
	store := seedStore(t, map[string]string{
		"viking://curated/a": dup("a"),
		"viking://curated/b": dup("b"),
	})
	log := NewLog(filepath.Join(t.TempDir(), "dedup_log.json"))
	uris := []string{"viking://curated/a", "viking://curated/b"}

	// no merger: detect only, pair lands in the checked log
	d := New(store, log, nil, 0, 0, zap.NewNop())
	first, err := d.Run(context.Background(), uris, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Checked != 1 {
		t.Fatalf("first run checked %d, want 1", first.Checked)
	}

	second, err := d.Run(context.Background(), uris, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Checked != 0 {
		t.Fatalf("second run re-checked %d pairs, want 0", second.Checked)
	}
}

func TestRunIgnoresNonCuratedURIs(t *testing.T) {
	store := seedStore(t, map[string]string{
		"viking://resources/raw_1": dup("x"),
		"viking://resources/raw_2": dup("y"),
	})
	d := New(store, NewLog(filepath.Join(t.TempDir(), "log.json")), nil, 0, 0, zap.NewNop())

	report, err := d.Run(context.Background(), []string{
		"viking://resources/raw_1", "viking://resources/raw_2",
	}, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 0 {
		t.Fatalf("non-curated uris were checked: %+v", report)
	}
}

func TestRunRespectsMaxChecks(t *testing.T) {
	docs := map[string]string{}
	var uris []string
	for i := 0; i < 4; i++ {
		uri := fmt.Sprintf("viking://curated/doc_%d", i)
		docs[uri] = dup(fmt.Sprintf("variant %d", i))
		uris = append(uris, uri)
	}
	store := seedStore(t, docs)
	d := New(store, NewLog(filepath.Join(t.TempDir(), "log.json")), nil, 0, 0, zap.NewNop())

	report, err := d.Run(context.Background(), uris, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 2 {
		t.Fatalf("checked %d pairs, want 2 (maxChecks)", report.Checked)
	}
}

func TestRunMergeFailureLeavesOriginals(t *testing.T) {
	store := seedStore(t, map[string]string{
		"viking://curated/a": dup("a"),
		"viking://curated/b": dup("b"),
	})
	merger := &fakeMerger{fail: true}
	d := New(store, NewLog(filepath.Join(t.TempDir(), "log.json")), merger, 0, 0, zap.NewNop())

	report, err := d.Run(context.Background(), []string{
		"viking://curated/a", "viking://curated/b",
	}, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Merged != 0 {
		t.Fatalf("merged %d, want 0 on merge failure", report.Merged)
	}
	for _, uri := range []string{"viking://curated/a", "viking://curated/b"} {
		if _, err := store.Read(uri); err != nil {
			t.Errorf("%s should survive a failed merge", uri)
		}
	}
}

func TestLogCaps(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "log.json"))
	var s logState
	for i := 0; i < 600; i++ {
		s.CheckedPairs = append(s.CheckedPairs, fmt.Sprintf("a%d|b%d", i, i))
	}
	for i := 0; i < 150; i++ {
		s.Merged = append(s.Merged, MergeRecord{URIA: fmt.Sprintf("u%d", i)})
	}
	if err := log.save(s); err != nil {
		t.Fatal(err)
	}
	got := log.load()
	if len(got.CheckedPairs) != 500 {
		t.Errorf("checked pairs = %d, want capped at 500", len(got.CheckedPairs))
	}
	if len(got.Merged) != 100 {
		t.Errorf("merged = %d, want capped at 100", len(got.Merged))
	}
	// the newest entries survive the cap
	if got.CheckedPairs[len(got.CheckedPairs)-1] != "a599|b599" {
		t.Errorf("cap must keep the most recent pairs, got tail %q",
			got.CheckedPairs[len(got.CheckedPairs)-1])
	}
	if got.LastRun == "" {
		t.Error("last_run not stamped")
	}
}
