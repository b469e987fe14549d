package library

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// maxEditDistance bounds the typo fallback used when subsequence matching
// finds nothing.
const maxEditDistance = 2

// Suggest ranks candidate names similar to name. Subsequence matches
// ("fmtr" for "formatter") come first; when there are none, names within a
// small edit distance are offered instead. The result is deterministic and
// computed without touching any entry.
func Suggest(name string, candidates []string, max int) []string {
	if name == "" || len(candidates) == 0 || max <= 0 {
		return nil
	}
	sorted := append([]string{}, candidates...)
	sort.Strings(sorted)

	matches := fuzzy.Find(name, sorted)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Str < matches[j].Str
	})

	var out []string
	for _, m := range matches {
		if m.Str == name {
			continue
		}
		out = append(out, m.Str)
		if len(out) == max {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}

	type scored struct {
		name string
		dist int
	}
	var near []scored
	lower := strings.ToLower(name)
	for _, c := range sorted {
		if d := levenshtein(lower, strings.ToLower(c)); d <= maxEditDistance && c != name {
			near = append(near, scored{c, d})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].dist < near[j].dist })
	for _, c := range near {
		out = append(out, c.name)
		if len(out) == max {
			break
		}
	}
	return out
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
