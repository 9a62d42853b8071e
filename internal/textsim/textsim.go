// Package textsim implements the token-set similarity used for
// near-duplicate detection and smart digest grouping.
//
// Token Jaccard is a deliberate stand-in for true semantic matching; an
// embedding-based implementation can replace it behind the same functions.
package textsim

import (
	"strings"
	"unicode"
)

// stopWords are dropped before comparison. Short tokens (<3 runes) are
// dropped as well.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "this": true, "that": true, "with": true, "from": true,
	"they": true, "will": true, "been": true, "were": true, "their": true,
	"what": true, "when": true, "your": true, "said": true, "about": true,
	"into": true, "than": true, "them": true, "then": true, "more": true,
}

// Tokenize lowercases text, strips non-letter runes and drops stop-words
// and short tokens. The result is a set.
func Tokenize(text string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	out := map[string]bool{}
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// Jaccard returns |intersection| / |union| of two token sets.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SharedTokens counts tokens present in both sets.
func SharedTokens(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}
