// Package search runs external web search through pluggable providers
// and cross-validates what comes back. A provider is any model with
// live internet access behind an OpenAI-compatible endpoint; it gets a
// date-anchored prompt that forces source dates and staleness markers
// into the result.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ponsde/OpenViking-Curator/internal/config"
	"github.com/ponsde/OpenViking-Curator/internal/judge"
	"github.com/ponsde/OpenViking-Curator/internal/llm"
	"github.com/ponsde/OpenViking-Curator/internal/scope"
)

// Provider performs one external search.
type Provider interface {
	Search(ctx context.Context, query string, hint scope.Hint) (string, error)
}

// ChatProvider searches by asking a browsing-capable chat model.
type ChatProvider struct {
	client *llm.Client
	models []string
}

// NewChatProvider wraps an OAI-compatible endpoint as a search
// provider, trying models in order.
func NewChatProvider(client *llm.Client, models []string) *ChatProvider {
	return &ChatProvider{client: client, models: models}
}

func (p *ChatProvider) Search(ctx context.Context, query string, hint scope.Hint) (string, error) {
	system, user := BuildPrompt(query, hint, time.Now())
	content, _, err := p.client.ChatFallback(ctx, p.models, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	return content, nil
}

// NewProvider builds the configured provider. "grok" talks to the
// local grok gateway; "oai" reuses the main chat endpoint with the
// search model list.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.SearchProvider {
	case "grok":
		client := llm.NewClient(cfg.SearchBaseURL, cfg.SearchAPIKey, cfg.SearchTimeout)
		return NewChatProvider(client, cfg.SearchModels), nil
	case "oai":
		client := llm.NewClient(cfg.ChatBaseURL, cfg.ChatAPIKey, cfg.SearchTimeout)
		return NewChatProvider(client, cfg.SearchModels), nil
	default:
		return nil, fmt.Errorf("search: unknown provider %q (available: grok, oai)", cfg.SearchProvider)
	}
}

// BuildPrompt returns the shared system and user prompts. The current
// date is embedded so the model can judge staleness, and the rules
// force per-source dates, archived markers and usable-vs-reference
// labels into the output.
func BuildPrompt(query string, hint scope.Hint, now time.Time) (system, user string) {
	today := now.Format("2006-01-02")

	system = "你是实时搜索助手。重视可验证来源和信息时效性。" +
		"当前日期: " + today + "。" +
		"对于技术类问题，优先引用官方文档和近期更新。" +
		"如果搜到的信息可能已过时（如超过1年的项目、已变更的API流程），" +
		"必须明确标注并提示用户验证。" +
		"对于GitHub项目，务必区分：项目存在 ≠ 项目能用。"

	user = fmt.Sprintf(
		"问题: %s\n关键词: %s\n排除: %s\n偏好来源: %s\n当前日期: %s\n\n",
		query,
		strings.Join(hint.Keywords, ", "),
		strings.Join(hint.Exclude, ", "),
		strings.Join(hint.SourcePref, ", "),
		today,
	) +
		"要求:\n" +
		"1. 返回5条高质量来源，格式：标题+URL+发布/更新日期+关键点\n" +
		"2. 优先最近6个月内的信息，标注每条来源的日期\n" +
		"3. 如果引用的项目/文档超过1年未更新，明确标注[可能过时]\n" +
		"4. 涉及API、注册流程、认证方式等易变内容时，必须确认当前是否仍然有效\n" +
		"5. 不要把旧版本的技术要求当成当前事实（如已取消的验证步骤）\n" +
		"6. GitHub项目必须标注：最后commit日期、star数、是否archived\n" +
		"7. 区分[可直接使用]和[仅供参考]——维护中且有文档的才算可用"
	return system, user
}

// ─── Cross-validation ────────────────────────────────────────────────────────

// Validation carries a cross-validated search result.
type Validation struct {
	Validated    string   `json:"validated"`
	Warnings     []string `json:"warnings"`
	FollowupDone bool     `json:"followup_done"`
	HighRisk     int      `json:"high_risk_count"`
}

type claimReport struct {
	Claims []struct {
		Claim      string `json:"claim"`
		SourceDate string `json:"source_date"`
		Risk       string `json:"risk"`
	} `json:"claims"`
	NeedsFollowup bool   `json:"needs_followup"`
	FollowupQuery string `json:"followup_query"`
}

// Validator cross-checks external search output for volatile claims
// and chains a follow-up search when high-risk ones surface.
type Validator struct {
	client   *llm.Client
	models   []string
	provider Provider
}

// NewValidator builds a validator; models are tried in order for the
// claim-extraction call.
func NewValidator(client *llm.Client, models []string, provider Provider) *Validator {
	return &Validator{client: client, models: models, provider: provider}
}

// Validate extracts volatile claims from externalText. Every failure
// mode degrades to passing the text through unchanged; validation is
// best-effort and never blocks the pipeline.
func (v *Validator) Validate(ctx context.Context, query, externalText string) Validation {
	passthrough := Validation{Validated: externalText, Warnings: []string{}}

	excerpt := externalText
	if len(excerpt) > 3000 {
		excerpt = excerpt[:3000]
	}
	today := time.Now().Format("2006-01-02")

	extractPrompt := fmt.Sprintf(
		"当前日期: %s\n\n以下是关于「%s」的外部搜索结果:\n%s\n\n", today, query, excerpt) +
		"请识别其中的「易变声明」——即可能已经过时或需要验证的技术事实。\n" +
		"重点关注:\n" +
		"- API端点、注册/认证流程、验证要求（这些经常变）\n" +
		"- 来自超过6个月前的项目的技术声明\n" +
		"- 多个来源之间互相矛盾的说法\n" +
		"- 把某个项目的特定实现当成通用事实的情况\n\n" +
		`输出严格JSON: {"claims": [{"claim": "...", "source_date": "...", "risk": "high/medium/low"}], ` +
		`"needs_followup": bool, "followup_query": "如果needs_followup=true，给出验证搜索词"}`

	out, _, err := v.client.ChatFallback(ctx, v.models, []llm.Message{
		{Role: "system", Content: "你是信息验证器。识别需要交叉验证的易变技术声明。只输出JSON。"},
		{Role: "user", Content: extractPrompt},
	})
	if err != nil {
		return passthrough
	}

	var report claimReport
	if err := judge.DecodeJSON(out, &report); err != nil {
		return passthrough
	}

	var warnings, highClaims []string
	for _, c := range report.Claims {
		if c.Risk == "high" {
			warnings = append(warnings, c.Claim)
			highClaims = append(highClaims, truncate(c.Claim, 30))
		}
	}

	validated := externalText
	followupDone := false
	if report.NeedsFollowup && report.FollowupQuery != "" && len(highClaims) > 0 && v.provider != nil {
		followup, err := v.provider.Search(ctx, report.FollowupQuery, scope.Hint{
			Keywords:   highClaims,
			SourcePref: []string{"official_docs"},
		})
		if err == nil && followup != "" {
			validated = externalText + "\n\n--- 交叉验证补充 ---\n" + followup
			followupDone = true
		}
	}

	return Validation{
		Validated:    validated,
		Warnings:     warnings,
		FollowupDone: followupDone,
		HighRisk:     len(warnings),
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}
