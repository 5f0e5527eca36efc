package dedup

import (
	"github.com/agext/levenshtein"
)

// tokenJaccard computes Jaccard similarity over two token sets.
func tokenJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// editRatio is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func editRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}

// companySimilarity scores two normalized company names in [0,1].
func companySimilarity(mode string, a, b normalizedName) float64 {
	if a.joined == "" || b.joined == "" {
		return 0
	}
	if a.joined == b.joined {
		return 1
	}
	switch mode {
	case CompanySimilarityToken:
		return tokenJaccard(a.tokens, b.tokens)
	case CompanySimilarityEdit:
		return editRatio(a.joined, b.joined)
	default:
		return max(tokenJaccard(a.tokens, b.tokens), editRatio(a.joined, b.joined))
	}
}

type normalizedName struct {
	tokens []string
	joined string
}
