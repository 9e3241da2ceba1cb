// Package analyze provides text analysis for prompts and pattern
// statements: normalization, near-duplicate similarity, ranking, and
// prompt classification.
package analyze

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Suggestion pairs a candidate text with its similarity score (0-1, higher is better).
type Suggestion struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// DefaultThreshold is the similarity at or above which two normalized
// pattern statements are treated as the same pattern.
const DefaultThreshold = 0.85

// DefaultTopN is the maximum number of suggestions returned by Rank.
const DefaultTopN = 5

// Normalize returns the canonical form of a pattern statement: case-folded,
// whitespace collapsed to single spaces, trailing punctuation trimmed.
func Normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Similarity computes the similarity of two normalized strings. It combines
// normalized Levenshtein distance with prefix and suffix bonuses, capped at 1.
// It is symmetric.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	// Normalized Levenshtein: 1 - (distance / max_length).
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := max(len(ra), len(rb))
	lev := 1.0 - float64(dist)/float64(maxLen)

	// Prefix bonus: proportion of shared prefix, weighted at 0.1.
	prefixBonus := 0.1 * float64(commonPrefixLen(ra, rb)) / float64(maxLen)

	// Suffix bonus: proportion of shared suffix, weighted at 0.05.
	suffixBonus := 0.05 * float64(commonSuffixLen(ra, rb)) / float64(maxLen)

	return min(lev+prefixBonus+suffixBonus, 1.0)
}

// Match returns the index of the first text in existing that equals norm or
// scores at least threshold against it, or -1. All texts must be normalized.
func Match(norm string, existing []string, threshold float64) int {
	for i, e := range existing {
		if e == norm || Similarity(norm, e) >= threshold {
			return i
		}
	}
	return -1
}

// Rank returns up to topN texts similar to query with score >= threshold,
// highest score first. Ties keep input order. Query and texts are
// normalized before comparison.
func Rank(query string, texts []string, topN int, threshold float64) []Suggestion {
	if query == "" || len(texts) == 0 {
		return nil
	}
	q := Normalize(query)
	var results []Suggestion
	for i, t := range texts {
		score := Similarity(q, Normalize(t))
		if score >= threshold {
			results = append(results, Suggestion{Index: i, Text: t, Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}

// commonPrefixLen returns the length of the common prefix of a and b.
func commonPrefixLen(a, b []rune) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// commonSuffixLen returns the length of the common suffix of a and b.
func commonSuffixLen(a, b []rune) int {
	la, lb := len(a), len(b)
	n := min(la, lb)
	for i := 0; i < n; i++ {
		if a[la-1-i] != b[lb-1-i] {
			return i
		}
	}
	return n
}
