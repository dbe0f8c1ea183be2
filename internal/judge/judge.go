// Package judge reviews external search results before anything
// reaches the knowledge base. One LLM call produces both the ingestion
// verdict and the conflict report; conflict resolution itself is a
// pure function over that report, so the policy stays testable and the
// model never decides which side wins.
package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/ponsde/OpenViking-Curator/internal/freshness"
	"github.com/ponsde/OpenViking-Curator/internal/llm"
)

// Result is the judge's verdict on one external search result.
type Result struct {
	Pass            bool     `json:"pass"`
	Reason          string   `json:"reason"`
	Trust           int      `json:"trust"`
	Freshness       string   `json:"freshness"`
	Summary         string   `json:"summary"`
	Markdown        string   `json:"markdown"`
	HasConflict     bool     `json:"has_conflict"`
	ConflictSummary string   `json:"conflict_summary"`
	ConflictPoints  []string `json:"conflict_points"`
}

// normalize clamps out-of-range fields rather than failing the parse;
// judge models drift and a verdict with trust 11 is still a verdict.
func (r *Result) normalize() {
	if r.Trust < 0 {
		r.Trust = 0
	}
	if r.Trust > 10 {
		r.Trust = 10
	}
	switch r.Freshness {
	case freshness.Current, freshness.Recent, freshness.Outdated, freshness.Unknown:
	default:
		r.Freshness = freshness.Unknown
	}
	if r.ConflictPoints == nil {
		r.ConflictPoints = []string{}
	}
}

// Judge runs review calls against the configured judge models.
type Judge struct {
	client *llm.Client
	models []string
}

// New returns a judge trying models in order.
func New(client *llm.Client, models []string) *Judge {
	return &Judge{client: client, models: models}
}

// Review merges review and conflict detection into a single model
// call: the verdict on the external text, plus whether it contradicts
// the local context. Model failure or unparseable output comes back as
// a failed verdict, never an error that would abort the cycle.
func (j *Judge) Review(ctx context.Context, query, localCtx, externalText string) Result {
	today := time.Now().Format("2006-01-02")

	localSnippet := clip(localCtx, 2000)
	externalSnippet := clip(externalText, 3000)

	sysPrompt := "你是知识库治理助手。你需要同时完成两件事：\n\n" +
		"1. **审核外搜结果**：判断是否值得入库\n" +
		"   - 内容准确性、时效性、入库价值\n" +
		"   - 超过1年未更新的标注[可能过时]\n" +
		"   - 已取消/变更的功能当作当前事实 → pass=false\n\n" +
		"2. **冲突检测**：比较本地知识与外搜结果是否有结论冲突\n" +
		"   - 细节差异不算冲突，结论矛盾才算\n\n" +
		"当前日期: " + today + "\n\n" +
		"输出严格 JSON:\n{\n" +
		"  \"pass\": bool,\n" +
		"  \"reason\": \"审核判断理由\",\n" +
		"  \"trust\": 0-10,\n" +
		"  \"freshness\": \"current|recent|outdated|unknown\",\n" +
		"  \"summary\": \"内容摘要\",\n" +
		"  \"markdown\": \"如果 pass=true，输出整理后的 markdown（含来源URL和日期）\",\n" +
		"  \"has_conflict\": bool,\n" +
		"  \"conflict_summary\": \"冲突摘要（无冲突则空）\",\n" +
		"  \"conflict_points\": [\"冲突点1\", \"冲突点2\"]\n" +
		"}\n只输出 JSON。"

	userContent := fmt.Sprintf("用户问题: %s\n\n本地知识:\n%s\n\n外搜结果:\n%s",
		query, localSnippet, externalSnippet)

	out, _, err := j.client.ChatFallback(ctx, j.models, []llm.Message{
		{Role: "system", Content: sysPrompt},
		{Role: "user", Content: userContent},
	})
	if err != nil {
		return failedResult(fmt.Sprintf("judge_fail:%v", err))
	}

	return ParseResult(out)
}

// ParseResult extracts and validates the judge JSON from raw model
// output. Unparseable output yields a failed verdict.
func ParseResult(raw string) Result {
	var r Result
	if err := DecodeJSON(raw, &r); err != nil {
		return failedResult("bad_json")
	}
	r.normalize()
	return r
}

func failedResult(reason string) Result {
	return Result{Pass: false, Reason: reason, Freshness: freshness.Unknown, ConflictPoints: []string{}}
}

// ─── Conflict resolution ─────────────────────────────────────────────────────

// Preferred sides of a conflict resolution.
const (
	PreferNone   = "none"
	PreferExt    = "external"
	PreferLocal  = "local"
	PreferReview = "human_review"
)

// Resolution strategies. The configured mode (auto, local, external,
// human) selects between the auto heuristic and a fixed preference.
const (
	StrategyNoConflict     = "no_conflict"
	StrategyAuto           = "auto"
	StrategyLocalAlways    = "local_always"
	StrategyExternalAlways = "external_always"
	StrategyHumanAlways    = "human_always"
)

// Resolution is the deterministic outcome of a detected conflict.
type Resolution struct {
	Strategy  string `json:"strategy"`
	Preferred string `json:"preferred"`
	Note      string `json:"note,omitempty"`
}

// Resolve maps a judge verdict to a conflict resolution without any
// model involvement. strategy is the configured mode: "local",
// "external" and "human" always resolve to that fixed preference;
// "auto" (the default) lets fresh high-trust external content win,
// low-trust content lose to local knowledge, and sends everything in
// between to a human. No conflict short-circuits them all.
func Resolve(r Result, strategy string) Resolution {
	if !r.HasConflict {
		return Resolution{Strategy: StrategyNoConflict, Preferred: PreferNone}
	}

	switch strategy {
	case "local":
		return Resolution{
			Strategy:  StrategyLocalAlways,
			Preferred: PreferLocal,
			Note:      "configured to keep local on conflict",
		}
	case "external":
		return Resolution{
			Strategy:  StrategyExternalAlways,
			Preferred: PreferExt,
			Note:      "configured to take external on conflict",
		}
	case "human":
		return Resolution{
			Strategy:  StrategyHumanAlways,
			Preferred: PreferReview,
			Note:      r.ConflictSummary,
		}
	}

	fresh := r.Freshness == freshness.Current || r.Freshness == freshness.Recent
	switch {
	case r.Trust >= 7 && fresh:
		return Resolution{
			Strategy:  StrategyAuto,
			Preferred: PreferExt,
			Note:      "high-trust fresh external source supersedes local",
		}
	case r.Trust <= 3:
		return Resolution{
			Strategy:  StrategyAuto,
			Preferred: PreferLocal,
			Note:      "low-trust external source, keeping local",
		}
	default:
		return Resolution{
			Strategy:  StrategyAuto,
			Preferred: PreferReview,
			Note:      r.ConflictSummary,
		}
	}
}

// ShouldIngest gates ingestion on the combined verdict: the judge must
// pass it, it must not be outdated, and a conflict resolved in favor
// of local knowledge (or sent to a human) blocks it.
func ShouldIngest(r Result, res Resolution) bool {
	if !r.Pass || r.Markdown == "" {
		return false
	}
	if r.Freshness == freshness.Outdated {
		return false
	}
	return res.Preferred == PreferNone || res.Preferred == PreferExt
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
