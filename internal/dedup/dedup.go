// Package dedup finds and merges near-duplicate curated documents.
// Each pipeline run checks a few pairs from the URIs it just touched;
// a persistent log of checked pairs guarantees no pair is ever scored
// twice, so the work amortizes across runs.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/llm"
)

// Defaults applied when New is given zero values.
const (
	DefaultThreshold = 0.55
	DefaultMaxDocs   = 10
)

// MergeRecord documents one completed merge.
type MergeRecord struct {
	Time       string  `json:"time"`
	URIA       string  `json:"uri_a"`
	URIB       string  `json:"uri_b"`
	Similarity float64 `json:"similarity"`
	MergedURI  string  `json:"merged_uri"`
}

type logState struct {
	CheckedPairs []string      `json:"checked_pairs"`
	Merged       []MergeRecord `json:"merged"`
	LastRun      string        `json:"last_run"`
}

// Log is the flock-guarded record of checked pairs and merges.
type Log struct {
	path string
	lock *flock.Flock
}

// NewLog returns a log backed by path.
func NewLog(path string) *Log {
	return &Log{path: path, lock: flock.New(path + ".lock")}
}

func (l *Log) load() logState {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return logState{}
	}
	var s logState
	if err := json.Unmarshal(raw, &s); err != nil {
		return logState{}
	}
	return s
}

func (l *Log) save(s logState) error {
	s.LastRun = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	// keep the log bounded
	if n := len(s.CheckedPairs); n > 500 {
		s.CheckedPairs = s.CheckedPairs[n-500:]
	}
	if n := len(s.Merged); n > 100 {
		s.Merged = s.Merged[n-100:]
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("dedup: marshal log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("dedup: mkdir: %w", err)
	}
	if err := os.WriteFile(l.path, raw, 0600); err != nil {
		return fmt.Errorf("dedup: write log: %w", err)
	}
	return nil
}

// LogStats summarizes the log for status surfaces.
type LogStats struct {
	CheckedPairs int    `json:"checked_pairs"`
	Merged       int    `json:"merged"`
	LastRun      string `json:"last_run"`
}

// Stats reads the log without taking the lock; counts may lag a
// concurrent run by one save.
func (l *Log) Stats() LogStats {
	s := l.load()
	return LogStats{CheckedPairs: len(s.CheckedPairs), Merged: len(s.Merged), LastRun: s.LastRun}
}

// PairKey orders two URIs so (a,b) and (b,a) map to the same record.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Merger combines two near-duplicate documents into one.
type Merger interface {
	Merge(ctx context.Context, uriA, contentA, uriB, contentB string) (string, error)
}

// LLMMerger merges via a chat model, keeping every unique detail from
// both sides.
type LLMMerger struct {
	client *llm.Client
	models []string
}

// NewLLMMerger builds a merger trying models in order.
func NewLLMMerger(client *llm.Client, models []string) *LLMMerger {
	return &LLMMerger{client: client, models: models}
}

func (m *LLMMerger) Merge(ctx context.Context, uriA, contentA, uriB, contentB string) (string, error) {
	prompt := fmt.Sprintf(
		"你是知识库去重助手。下面两篇文档内容高度相似，请合并为一篇。\n\n"+
			"要求：\n"+
			"1. 保留双方所有有价值的独特信息，不丢任何细节\n"+
			"2. 去除纯重复的部分\n"+
			"3. 如果两篇角度不同，都保留\n"+
			"4. 输出格式为 markdown，带标题\n"+
			"5. 如果两篇完全一样（没有任何独特信息），直接输出较完整的那篇\n\n"+
			"文档 A（URI: %s）:\n%s\n\n文档 B（URI: %s）:\n%s\n\n"+
			"请输出合并后的文档（纯 markdown，不要解释）：",
		uriA, clipRunes(contentA, 2000), uriB, clipRunes(contentB, 2000),
	)
	out, _, err := m.client.ChatFallback(ctx, m.models, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("dedup: merge: %w", err)
	}
	return out, nil
}

// Report summarizes one dedup pass.
type Report struct {
	Checked int      `json:"checked"`
	Merged  int      `json:"merged"`
	Details []string `json:"details,omitempty"`
}

// Deduper runs incremental duplicate detection over a knowledge
// backend. merger may be nil, which detects but never merges.
type Deduper struct {
	kb        backend.Knowledge
	log       *Log
	merger    Merger
	threshold float64
	maxDocs   int
	logger    *zap.Logger
}

// New builds a deduper; zero threshold/maxDocs take the defaults,
// logger must not be nil.
func New(kb backend.Knowledge, log *Log, merger Merger, threshold float64, maxDocs int, logger *zap.Logger) *Deduper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if maxDocs <= 0 {
		maxDocs = DefaultMaxDocs
	}
	return &Deduper{kb: kb, log: log, merger: merger, threshold: threshold, maxDocs: maxDocs, logger: logger}
}

// Run checks up to maxChecks unseen pairs among the curated documents
// named by uris and reports similar pairs with their score. The scan
// never deletes anything on its own: only with merge set (and a merger
// present) is a similar pair combined into one ingested document and
// both originals removed.
func (d *Deduper) Run(ctx context.Context, uris []string, maxChecks int, merge bool) (Report, error) {
	var report Report

	// only our own curated documents; never touch raw source data
	var valid []string
	for _, u := range uris {
		if strings.HasPrefix(u, "viking://") && strings.Contains(strings.ToLower(u), "curated") {
			valid = append(valid, u)
		}
	}
	if len(valid) > d.maxDocs {
		valid = valid[:d.maxDocs]
	}
	if len(valid) < 2 {
		return report, nil
	}

	contents := map[string]string{}
	var order []string
	for _, u := range valid {
		content, err := d.kb.Read(u)
		if err != nil || len(content) <= 50 {
			continue
		}
		contents[u] = content
		order = append(order, u)
	}
	if len(order) < 2 {
		return report, nil
	}
	sort.Strings(order)

	if err := d.log.lock.Lock(); err != nil {
		return report, fmt.Errorf("dedup: lock: %w", err)
	}
	defer func() { _ = d.log.lock.Unlock() }()

	state := d.log.load()
	checked := map[string]bool{}
	for _, pk := range state.CheckedPairs {
		checked[pk] = true
	}

pairs:
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if report.Checked >= maxChecks {
				break pairs
			}

			uriA, uriB := order[i], order[j]
			pk := PairKey(uriA, uriB)
			if checked[pk] {
				continue
			}

			sim := Similarity(contents[uriA], contents[uriB])
			checked[pk] = true
			state.CheckedPairs = append(state.CheckedPairs, pk)
			report.Checked++

			if sim < d.threshold {
				continue
			}
			d.logger.Info("dedup: similar pair found",
				zap.Float64("similarity", sim),
				zap.String("uri_a", uriA),
				zap.String("uri_b", uriB))

			if !merge || d.merger == nil {
				report.Details = append(report.Details,
					fmt.Sprintf("similar: %s ~ %s (%.2f)", uriA, uriB, sim))
				continue
			}

			merged, err := d.merger.Merge(ctx, uriA, contents[uriA], uriB, contents[uriB])
			if err != nil || strings.TrimSpace(merged) == "" {
				d.logger.Warn("dedup: merge failed", zap.Error(err))
				continue
			}

			title := fmt.Sprintf("merged_%d", time.Now().Unix())
			mergedURI, err := d.kb.Ingest(merged, title, map[string]string{
				"source": "dedup_merge",
				"from":   uriA + "," + uriB,
			})
			if err != nil {
				d.logger.Warn("dedup: ingest of merged doc failed", zap.Error(err))
				continue
			}
			for _, old := range []string{uriA, uriB} {
				if _, err := d.kb.Delete(old); err != nil {
					d.logger.Warn("dedup: delete failed", zap.String("uri", old), zap.Error(err))
				}
			}

			report.Merged++
			state.Merged = append(state.Merged, MergeRecord{
				Time:       time.Now().UTC().Format("2006-01-02T15:04:05Z"),
				URIA:       uriA,
				URIB:       uriB,
				Similarity: round3(sim),
				MergedURI:  mergedURI,
			})
			report.Details = append(report.Details,
				fmt.Sprintf("merged: %s + %s (%.2f)", uriA, uriB, sim))
		}
	}

	if err := d.log.save(state); err != nil {
		return report, err
	}
	return report, nil
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
