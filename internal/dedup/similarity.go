package dedup

import (
	"strings"
	"unicode"
)

// Similarity combines Levenshtein and Jaccard text similarity step
// 2: 0.6*levenshteinSim + 0.4*jaccardSim, over the lowercased primary text.
// Jaccard/normalize grounded on internal/service/consensus.go.
func Similarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	lev := LevenshteinSimilarity(na, nb)
	jac := jaccardSimilarity(tokenSet(na), tokenSet(nb))
	return 0.6*lev + 0.4*jac
}

// normalizeText lowercases and collapses non-letter/digit runs to single
// spaces, same rule as internal/service/consensus.NormalizeText.
func normalizeText(text string) string {
	text = strings.ToLower(text)
	var b strings.Builder
	prevSpace := true
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenSet(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// jaccardSimilarity computes |A n B| / |A u B|, same as
// internal/service/consensus.JaccardSimilarity but over word tokens rather
// than claim lists.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
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
	union := len(setA)
	for t := range setB {
		if !setA[t] {
			union++
		}
	}
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
