package registry

import (
	"strings"
)

// Distance returns the Damerau-Levenshtein distance between a and b:
// the minimum number of insertions, deletions, substitutions, or adjacent
// transpositions needed to turn a into b. Pure and safe for concurrent use.
func Distance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	lenA := len(ra)
	lenB := len(rb)

	if lenA == 0 {
		return lenB
	}
	if lenB == 0 {
		return lenA
	}

	d := make([][]int, lenA+1)
	for i := range d {
		d[i] = make([]int, lenB+1)
		d[i][0] = i
	}
	for j := 0; j <= lenB; j++ {
		d[0][j] = j
	}

	for i := 1; i <= lenA; i++ {
		for j := 1; j <= lenB; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			del := d[i-1][j] + 1
			ins := d[i][j-1] + 1
			sub := d[i-1][j-1] + cost

			best := del
			if ins < best {
				best = ins
			}
			if sub < best {
				best = sub
			}

			// Adjacent transposition counts as a single edit.
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := d[i-2][j-2] + cost; t < best {
					best = t
				}
			}

			d[i][j] = best
		}
	}

	return d[lenA][lenB]
}

// Score rates how well query matches text. 0 means text contains the query
// as a substring; otherwise the normalized edit distance, minimized over the
// whitespace words of text and over a prefix of the full text. Lower is
// better. Both inputs are case-folded first.
func Score(query, text string) float64 {
	q := strings.ToLower(query)
	t := strings.ToLower(text)

	if strings.Contains(t, q) {
		return 0
	}

	qLen := len([]rune(q))
	tRunes := []rune(t)

	best := float64(1<<31 - 1)
	for _, word := range strings.Fields(t) {
		dist := Distance(q, word)
		wLen := len([]rune(word))
		norm := float64(dist) / float64(max(qLen, wLen))
		if norm < best {
			best = norm
		}
	}

	// A near-miss at the start of the text should still rank: compare the
	// query against a prefix two runes longer than itself, normalized by
	// the full text length.
	prefixLen := qLen + 2
	if prefixLen > len(tRunes) {
		prefixLen = len(tRunes)
	}
	dist := Distance(q, string(tRunes[:prefixLen]))
	norm := float64(dist) / float64(max(qLen, len(tRunes)))
	if norm < best {
		best = norm
	}

	return best
}
