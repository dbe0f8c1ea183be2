package dedup

import (
	"regexp"
	"strings"
)

var (
	enTokenRegex  = regexp.MustCompile(`[a-z][a-z0-9_\-]{2,}`)
	cjkTokenRegex = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,6}`)
)

// Tokens extracts the keyword set used for the Jaccard pass: latin
// identifiers of three or more characters plus short CJK runs.
func Tokens(text string) map[string]bool {
	tl := strings.ToLower(text)
	set := map[string]bool{}
	for _, t := range enTokenRegex.FindAllString(tl, -1) {
		set[t] = true
	}
	for _, t := range cjkTokenRegex.FindAllString(tl, -1) {
		set[t] = true
	}
	return set
}

// Similarity scores two documents on [0, 1]. Token Jaccard is the
// cheap first pass; only pairs sharing enough vocabulary earn the
// quadratic character-level comparison, blended 40/60 so shared
// structure outweighs shared vocabulary.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	ka, kb := Tokens(a), Tokens(b)
	if len(ka) == 0 || len(kb) == 0 {
		return 0.0
	}

	inter := 0
	for t := range ka {
		if kb[t] {
			inter++
		}
	}
	union := len(ka) + len(kb) - inter
	jaccard := float64(inter) / float64(union)
	if jaccard < 0.3 {
		return jaccard
	}

	ratio := SequenceRatio(clipRunes(a, 2000), clipRunes(b, 2000))
	return 0.4*jaccard + 0.6*ratio
}

// SequenceRatio is the Ratcliff/Obershelp similarity of two strings:
// twice the total matched characters over the combined length, with
// matches found by recursively taking the longest common substring.
func SequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingChars(ra, rb)) / float64(total)
}

func matchingChars(a, b []rune) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest common substring, indexing b's runes
// so each row of the comparison only visits positions that can match.
func longestMatch(a, b []rune) (bestA, bestB, bestSize int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	b2j := map[rune][]int{}
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	// j2len[j] = length of match ending at a[i-1], b[j-1]
	j2len := map[int]int{}
	for i, r := range a {
		next := map[int]int{}
		for _, j := range b2j[r] {
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestSize {
				bestA, bestB, bestSize = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return bestA, bestB, bestSize
}

func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}
