package search

import "strings"

// levenshteinDistance computes classic single-character-edit distance. No
// example repo in the retrieval pack carries a fuzzy-matching library
// (agnivade/levenshtein, lithammer/fuzzysearch, etc. are all absent from
// every go.mod in the corpus), so this is hand-rolled stdlib rather than a
// wired dependency.
func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// levenshteinRatio converts distance into a 0..1 similarity score, the
// "Levenshtein-ratio" half of the fuzzy comparator.
func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// tokenSetRatio is the token-set half of the comparator: split both strings
// into word sets, and score by overlap of the sorted intersection against
// the sorted union, same spirit as the fuzzywuzzy "token set ratio" but
// computed directly on the token sets rather than reassembled substrings.
func tokenSetRatio(a, b string) float64 {
	wordsA := wordRegex.FindAllString(strings.ToLower(a), -1)
	wordsB := wordRegex.FindAllString(strings.ToLower(b), -1)
	setA := make(map[string]struct{}, len(wordsA))
	for _, w := range wordsA {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		setB[w] = struct{}{}
	}
	return jaccard(setA, setB)
}
