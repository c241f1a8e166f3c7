package score

import (
	"strings"
	"unicode"
)

// textScore combination weights. Token overlap carries most of the signal;
// the edit-distance term rescues reordered or lightly mangled descriptions.
const (
	tokenWeight = 0.7
	editWeight  = 0.3
)

// Normalize lowercases a description and strips punctuation, collapsing runs
// of whitespace to single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits a description into normalized tokens.
func Tokenize(s string) []string {
	normalized := Normalize(s)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// TokenSet returns the distinct normalized tokens of a description.
func TokenSet(s string) map[string]struct{} {
	tokens := Tokenize(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// TextScore returns a [0,1] similarity between two free-text descriptions:
// case-insensitive, punctuation-stripped token-set overlap combined with a
// bounded edit-distance term. Symmetric, and reflexive (TextScore(x,x)==1).
func TextScore(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)

	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}

	overlap := jaccard(TokenSet(na), TokenSet(nb))

	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	editSim := 1 - float64(levenshtein(na, nb))/float64(maxLen)
	if editSim < 0 {
		editSim = 0
	}

	return clamp01(tokenWeight*overlap + editWeight*editSim)
}

// jaccard computes |a∩b| / |a∪b| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// levenshtein computes the edit distance between two strings, rune-wise.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
