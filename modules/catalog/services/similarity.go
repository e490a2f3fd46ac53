package services

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity scores two normalized strings in [0,1].
type Similarity interface {
	Score(a string, b string) float64
}

// EditTokenSimilarity is the larger of the Levenshtein ratio and the Dice
// coefficient over whitespace tokens. The edit ratio catches typos, the token
// score catches reordered or partially matching phrases.
type EditTokenSimilarity struct{}

func (EditTokenSimilarity) Score(a string, b string) float64 {
	return max(levenshteinRatio(a, b), tokenDice(a, b))
}

func levenshteinRatio(a string, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func tokenDice(a string, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	}) {
		out[t] = struct{}{}
	}
	return out
}
