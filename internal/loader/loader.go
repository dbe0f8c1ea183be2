// Package loader assembles context for the judge and the answer step
// by drilling down through document tiers strictly on demand: short
// abstracts first, overviews only when abstracts fall short, and full
// reads only as a bounded last resort.
package loader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ponsde/OpenViking-Curator/internal/backend"
	"github.com/ponsde/OpenViking-Curator/internal/config"
)

// Stages reported by Load.
const (
	StageNone = "none"
	StageL0   = "L0"
	StageL1   = "L1"
	StageL2   = "L2"
)

// Result is the assembled context.
type Result struct {
	Text  string
	URIs  []string
	Stage string
}

// Loader reads document tiers from a knowledge backend.
type Loader struct {
	cfg *config.Config
	kb  backend.Knowledge
}

// New returns a loader over kb.
func New(cfg *config.Config, kb backend.Knowledge) *Loader {
	return &Loader{cfg: cfg, kb: kb}
}

// Load builds context from retrieval items. Items are ranked by score;
// a failing read of one URI never aborts the others. maxL2 caps full
// reads; zero disables them entirely.
func (l *Loader) Load(items []backend.Item, maxL2 int) Result {
	if len(items) == 0 {
		return Result{Stage: StageNone}
	}

	scored := make([]backend.Item, len(items))
	copy(scored, items)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	topScore := scored[0].Score

	// ── Stage 1: abstracts only ──
	var l0Blocks, l0URIs []string
	for _, it := range head(scored, 4) {
		abstract := strings.TrimSpace(it.Abstract)
		if it.URI == "" || len(abstract) < 20 {
			continue
		}
		l0Blocks = append(l0Blocks, sourceBlock(it.URI, abstract, 350))
		l0URIs = append(l0URIs, it.URI)
	}
	if topScore >= l.cfg.L0Sufficient && len(l0Blocks) >= 2 {
		return Result{Text: strings.Join(l0Blocks, "\n\n"), URIs: l0URIs, Stage: StageL0}
	}

	// ── Stage 2: overviews on demand ──
	var blocks, usedURIs []string
	pos := map[string]int{}
	for _, it := range head(scored, 5) {
		if it.URI == "" {
			continue
		}
		text, err := l.kb.Overview(it.URI)
		if err != nil || strings.TrimSpace(text) == "" {
			text = it.Abstract
		}
		text = strings.TrimSpace(text)
		if len(text) < 20 {
			continue
		}
		pos[it.URI] = len(blocks)
		blocks = append(blocks, sourceBlock(it.URI, text, 1000))
		usedURIs = append(usedURIs, it.URI)
	}

	l1Enough := topScore >= l.cfg.L1Sufficient && len(blocks) >= 2
	if l1Enough || maxL2 <= 0 {
		return Result{Text: strings.Join(blocks, "\n\n"), URIs: usedURIs, Stage: StageL1}
	}

	// ── Stage 3: bounded full reads ──
	// Candidates come from the original ranking, not usedURIs, so a
	// high-score URI whose overview came back empty still gets read.
	l2Count := 0
	for _, it := range head(scored, 3) {
		if l2Count >= maxL2 {
			break
		}
		if it.URI == "" || it.Score < l.cfg.L1Sufficient {
			continue
		}
		content, err := l.kb.Read(it.URI)
		if err != nil || len(content) <= 20 {
			continue
		}
		block := sourceBlock(it.URI, content, 1500)
		if p, ok := pos[it.URI]; ok {
			blocks[p] = block
		} else {
			pos[it.URI] = len(blocks)
			blocks = append(blocks, block)
			usedURIs = append(usedURIs, it.URI)
		}
		l2Count++
	}

	return Result{Text: strings.Join(blocks, "\n\n"), URIs: usedURIs, Stage: StageL2}
}

func sourceBlock(uri, text string, max int) string {
	if len(text) > max {
		text = text[:max]
	}
	return fmt.Sprintf("[SOURCE: %s]\n%s", uri, text)
}

func head(items []backend.Item, n int) []backend.Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}
