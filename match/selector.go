package match

import "sort"

// Pair is one committed before/after pairing.
type Pair struct {
	Before string  `json:"before"`
	After  string  `json:"after"`
	Score  float64 `json:"score"`
	Good   int     `json:"good_matches"`
}

// Assignment is the final pairing for a group. The mapping is
// injective: no after photo appears in two pairs.
type Assignment struct {
	Pairs           []Pair   `json:"pairs"`
	UnmatchedBefore []string `json:"unmatched_before"`
	UnmatchedAfter  []string `json:"unmatched_after"`
}

// Selector resolves ranked candidates into an assignment with a single
// greedy pass: always commit the globally best remaining pair. This is
// deliberately not optimal bipartite matching; it trades a little
// quality for speed and a trivially predictable result.
type Selector struct {
	minScore float64
}

// NewSelector returns a Selector. Pairs scoring below minScore are
// never committed; zero accepts any ranked candidate.
func NewSelector(minScore float64) *Selector {
	return &Selector{minScore: minScore}
}

// Select consumes the flattened candidate lists of every before photo
// in the group plus the full photo rosters, and produces the final
// assignment. Global score ties break by before path then after path,
// so identical input always yields an identical assignment.
func (s *Selector) Select(candidates []Candidate, befores, afters []string) Assignment {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].BeforePath != sorted[j].BeforePath {
			return sorted[i].BeforePath < sorted[j].BeforePath
		}
		return sorted[i].AfterPath < sorted[j].AfterPath
	})

	usedBefore := make(map[string]bool, len(befores))
	usedAfter := make(map[string]bool, len(afters))

	var pairs []Pair
	for _, c := range sorted {
		if c.Score < s.minScore {
			break // sorted descending, nothing below the floor follows
		}
		if usedBefore[c.BeforePath] || usedAfter[c.AfterPath] {
			continue
		}
		usedBefore[c.BeforePath] = true
		usedAfter[c.AfterPath] = true
		pairs = append(pairs, Pair{
			Before: c.BeforePath,
			After:  c.AfterPath,
			Score:  c.Score,
			Good:   c.Good,
		})
	}

	// Pairs are reported in before-path order, not commit order, so
	// the renderer's page order follows the photo tree.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Before < pairs[j].Before })

	out := Assignment{Pairs: pairs}
	for _, b := range sortedCopy(befores) {
		if !usedBefore[b] {
			out.UnmatchedBefore = append(out.UnmatchedBefore, b)
		}
	}
	for _, a := range sortedCopy(afters) {
		if !usedAfter[a] {
			out.UnmatchedAfter = append(out.UnmatchedAfter, a)
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
