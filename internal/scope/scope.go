// Package scope converts free-form user queries into structured
// retrieval hints: a coarse domain, deduplicated keywords, and a
// freshness flag. Extraction is pure rules, no model call, so routing
// stays under a millisecond.
package scope

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Hint is the structured routing result for a query.
type Hint struct {
	Domain     string   `json:"domain"`
	Keywords   []string `json:"keywords"`
	Exclude    []string `json:"exclude"`
	NeedFresh  bool     `json:"need_fresh"`
	SourcePref []string `json:"source_pref"`
	Confidence float64  `json:"confidence"`
}

// Gate reason codes returned by Route.
const (
	ReasonTooShort       = "too_short"
	ReasonStrongNegative = "strong_negative"
	ReasonPositiveMatch  = "positive_match"
	ReasonNegativeMatch  = "negative_match"
	ReasonQuestion       = "question_heuristic"
	ReasonNoSignal       = "no_signal"
)

// ─── Routing gate ────────────────────────────────────────────────────────────

// positive signals: knowledge questions, troubleshooting, build tasks,
// and tech nouns whose presence almost always means a technical query.
var positivePatterns = compileAll([]string{
	`是什么`, `怎么`, `原理`, `架构`, `区别`, `对比`, `比较`,
	`总结`, `文档`, `资料`, `教程`, `部署`, `配置`,
	`what\s+is`, `how\s+(does|do|to|can)`, `difference`, `compare`,
	`architecture`, `tutorial`, `deploy`, `setup`,
	`为什么`, `why`, `优缺点`, `pros?\s*(and|&)\s*cons?`,
	`best\s+practice`, `最佳实践`,
	`选`, `推荐`, `方案`, `选型`, `入门`, `指南`, `该用`,
	`recommend`, `which\s+(one|should)`, `suggest`,
	`历史`, `之前`, `上次`, `经验`, `参考`,
	`排查`, `日志`, `故障`, `报错`, `错误`, `怎么看`, `怎么用`,
	`troubleshoot`, `error`, `log`, `debug`, `502|503|504|timeout`,
	`写一个`, `搭建`, `加固`, `注册`, `自动化`,
	`pipeline`, `优化`, `迁移`, `接入`, `对接`,
	`script`, `automat`, `build`, `implement`, `create`,
	`docker|nginx|redis|mysql|postgres|k8s|kubernetes`,
	`api|sdk|cli|ssh|ssl|tls|http|websocket`,
	`python|node|rust|go|java|typescript`,
	`linux|ubuntu|centos|systemd`,
	`支持|兼容|版本|最新|功能|特性|渠道|安装|升级|更新`,
	`support|compatible|version|feature|install|upgrade|channel`,
})

// strong negatives block even when a positive signal is present
var strongNegativePatterns = compileAll([]string{
	`天气|时间|几点|日期`,
	`提醒我|remind`,
})

// plain negatives: greetings, acknowledgements, shell-style commands
var negativePatterns = compileAll([]string{
	`^(hi|hello|hey|你好|嗨|早|晚安)\s*$`,
	`^(ok|好的|行|收到|嗯|谢谢|thanks)\s*$`,
	`帮我(跑|执行|运行|commit|push|重启)`,
	`(^|[^a-zA-Z0-9_])(git|cd|ls|cat|rm|mv)\s+`,
	`打开|关闭|启动|停止|重启`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Route decides whether a query should go through the retrieval
// pipeline at all. Strong negatives win over everything; positives win
// over plain negatives; long question-shaped queries route by default.
func Route(query string) (bool, string) {
	q := strings.ToLower(strings.TrimSpace(query))
	if utf8.RuneCountInString(q) < 4 {
		return false, ReasonTooShort
	}

	for _, p := range strongNegativePatterns {
		if p.MatchString(q) {
			return false, ReasonStrongNegative
		}
	}

	for _, p := range positivePatterns {
		if p.MatchString(q) {
			return true, ReasonPositiveMatch
		}
	}

	for _, p := range negativePatterns {
		if p.MatchString(q) {
			return false, ReasonNegativeMatch
		}
	}

	if utf8.RuneCountInString(q) > 15 && strings.ContainsAny(q, "?？吗呢") {
		return true, ReasonQuestion
	}
	return false, ReasonNoSignal
}

// ─── Scope extraction ────────────────────────────────────────────────────────

var domainMap = []struct {
	name  string
	terms []string
}{
	{"technology", []string{
		"docker", "nginx", "linux", "k8s", "kubernetes", "systemd", "git",
		"python", "asyncio", "rust", "golang", "javascript", "typescript",
		"api", "mcp", "rag", "llm", "openai", "claude", "grok", "embedding",
		"vector", "milvus", "chroma", "qdrant", "ci/cd", "github actions",
		"terraform", "ansible", "openviking", "newapi", "oneapi", "grok2api",
		"wordpress", "tailscale", "cloudflare", "向量", "容器", "反向代理",
		"部署", "配置", "排查", "服务器", "数据库",
	}},
	{"devops", []string{
		"vps", "ssh", "firewall", "防火墙", "安全加固", "监控", "日志",
		"systemctl", "journalctl", "iptables", "ufw",
	}},
}

// cnTerms is a small dictionary for CJK word segmentation; queries are
// segmented by longest dictionary match (4, 3, then 2 runes), single
// runes are skipped.
var cnTerms = map[string]bool{
	"所有权": true, "模型": true, "理解": true, "排查": true, "配置": true,
	"注册": true, "入门": true, "对比": true, "选型": true,
	"安全": true, "加固": true, "防火墙": true, "日志": true, "网络": true,
	"存储": true, "容器": true, "反向代理": true,
	"常见问题": true, "最佳实践": true, "工作原理": true, "使用场景": true,
	"设计理念": true, "快速上手": true,
	"自动更新": true, "兼容性": true, "参数差异": true, "注意事项": true,
	"网关对比": true, "状态管理": true,
	"上下文": true, "文件系统": true, "向量数据库": true, "陷阱": true,
}

var stopwords = map[string]bool{
	"是什么": true, "怎么": true, "如何": true, "什么": true, "哪些": true,
	"常见": true, "有哪些": true, "最佳": true, "实践": true,
	"怎么样": true, "可以": true, "应该": true, "为什么": true, "到底": true,
	"一下": true, "这个": true, "那个": true,
	"the": true, "what": true, "how": true, "is": true, "are": true,
	"and": true, "for": true, "with": true, "to": true, "in": true, "of": true,
}

var freshCues = []string{"最新", "更新", "release", "changelog", "2026", "2025", "latest"}

var (
	enTokenRegex = regexp.MustCompile(`[a-zA-Z0-9_\-/.]{2,}`)
	cjkRunRegex  = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)
)

// Extract builds a retrieval Hint from a raw query using rules only.
func Extract(query string) Hint {
	ql := strings.ToLower(query)

	domain := "general"
domains:
	for _, d := range domainMap {
		for _, t := range d.terms {
			if strings.Contains(ql, t) {
				domain = d.name
				break domains
			}
		}
	}

	enTokens := enTokenRegex.FindAllString(query, -1)
	cnTokens := segmentCJK(query)

	seen := map[string]bool{}
	var keywords []string
	for _, t := range append(enTokens, cnTokens...) {
		lower := strings.ToLower(t)
		if stopwords[lower] || utf8.RuneCountInString(t) < 2 || seen[lower] {
			continue
		}
		seen[lower] = true
		keywords = append(keywords, t)
		if len(keywords) == 8 {
			break
		}
	}

	needFresh := false
	for _, cue := range freshCues {
		if strings.Contains(ql, cue) {
			needFresh = true
			break
		}
	}

	return Hint{
		Domain:     domain,
		Keywords:   keywords,
		Exclude:    []string{},
		NeedFresh:  needFresh,
		SourcePref: []string{"official_docs", "tech_blog", "github"},
		Confidence: 0.7,
	}
}

// segmentCJK extracts dictionary words from the CJK runs of a query:
// greedy longest-match over contiguous runs, with a bigram sweep as
// backstop for words the greedy pass skipped over.
func segmentCJK(query string) []string {
	var tokens []string
	seen := map[string]bool{}
	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			tokens = append(tokens, w)
		}
	}

	for _, run := range cjkRunRegex.FindAllString(query, -1) {
		runes := []rune(run)
		for i := 0; i < len(runes); {
			matched := false
			for _, length := range []int{4, 3, 2} {
				if i+length <= len(runes) && cnTerms[string(runes[i:i+length])] {
					add(string(runes[i : i+length]))
					i += length
					matched = true
					break
				}
			}
			if !matched {
				i++
			}
		}

		// bigram backstop
		for i := 0; i+2 <= len(runes); i++ {
			if bg := string(runes[i : i+2]); cnTerms[bg] {
				add(bg)
			}
		}
	}
	return tokens
}
