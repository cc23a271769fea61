// Package match scores before/after photo pairs by descriptor
// similarity and resolves the scores into a final one-to-one
// assignment. All distances are Hamming over binary ORB descriptors;
// the metric never changes within a run.
package match

import (
	"math/bits"
	"sort"

	"photoreport/feature"
)

// Candidate relates one before photo to one after photo in the same
// group. Score is the ratio-test match count normalized by the smaller
// descriptor set, so it stays in [0, 1] and is roughly comparable
// across pairs with different feature counts.
type Candidate struct {
	BeforePath string  `json:"before"`
	AfterPath  string  `json:"after"`
	Good       int     `json:"good_matches"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// Matcher ranks candidate after photos for a before photo.
type Matcher struct {
	ratio float64
	topK  int
}

// NewMatcher returns a Matcher with the given Lowe ratio threshold and
// result cap.
func NewMatcher(ratio float64, topK int) *Matcher {
	return &Matcher{ratio: ratio, topK: topK}
}

// Rank scores the before set against every candidate after set and
// returns at most topK candidates, best first. Ties are broken by
// after-photo path so reruns are bit-identical. Rank is free of side
// effects and safe to call concurrently for independent before photos.
func (m *Matcher) Rank(before *feature.Set, candidates []*feature.Set) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		good := m.goodMatches(before.Descriptors, cand.Descriptors)
		out = append(out, Candidate{
			BeforePath: before.Path,
			AfterPath:  cand.Path,
			Good:       good,
			Score:      normalize(good, len(before.Descriptors), len(cand.Descriptors)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AfterPath < out[j].AfterPath
	})

	if len(out) > m.topK {
		out = out[:m.topK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// goodMatches counts before descriptors whose nearest neighbor in the
// candidate set is unambiguous: the best distance must beat ratio
// times the second-best (Lowe's ratio test). Candidates with fewer
// than two descriptors cannot be ratio-tested and score zero.
func (m *Matcher) goodMatches(before, after [][]byte) int {
	if len(after) < 2 {
		return 0
	}
	good := 0
	for _, d := range before {
		best, second := nearestTwo(d, after)
		if float64(best) < m.ratio*float64(second) {
			good++
		}
	}
	return good
}

// nearestTwo returns the two smallest Hamming distances from d to the
// descriptors in set. len(set) >= 2.
func nearestTwo(d []byte, set [][]byte) (best, second int) {
	best, second = 1<<30, 1<<30
	for _, c := range set {
		dist := hamming(d, c)
		if dist < best {
			best, second = dist, best
		} else if dist < second {
			second = dist
		}
	}
	return best, second
}

func hamming(a, b []byte) int {
	n := 0
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return n
}

func normalize(good, beforeN, afterN int) float64 {
	min := beforeN
	if afterN < min {
		min = afterN
	}
	if min == 0 {
		return 0
	}
	// good is bounded by len(before), not by min, so the quotient can
	// exceed 1 when the after set is the smaller one.
	score := float64(good) / float64(min)
	if score > 1 {
		score = 1
	}
	return score
}
