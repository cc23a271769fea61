package photo

import "time"

// Phase classifies a photo by capture time-of-day relative to the
// configured work window.
type Phase string

const (
	PhaseBefore   Phase = "before"
	PhaseAfter    Phase = "after"
	PhaseRejected Phase = "rejected"
)

// Valid reports whether p is one of the storable phases.
func (p Phase) Valid() bool {
	return p == PhaseBefore || p == PhaseAfter
}

// Photo holds the metadata for one stored inspection photograph.
// Path is the canonical location under the save root and never changes
// once placed; reclassification means delete and re-place.
type Photo struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Site       string    `json:"site"`
	Task       string    `json:"task"`
	Phase      Phase     `json:"phase"`
	Month      string    `json:"month"` // YYYY-MM, derived from CapturedAt
	CapturedAt time.Time `json:"captured_at"`
	Size       int64     `json:"size"`
	ModifiedAt string    `json:"modified_at"`
	PHash      uint64    `json:"phash"`
}

// Group identifies the set of photos eligible for pairing with each
// other: same site and task, within a month range.
type Group struct {
	Site      string `json:"site"`
	Task      string `json:"task"`
	FromMonth string `json:"from_month"` // inclusive, YYYY-MM; empty means open
	ToMonth   string `json:"to_month"`   // inclusive, YYYY-MM; empty means open
}

// Contains reports whether the given month falls inside the group's
// month range. Months are YYYY-MM strings, so string order is date order.
func (g Group) Contains(month string) bool {
	if g.FromMonth != "" && month < g.FromMonth {
		return false
	}
	if g.ToMonth != "" && month > g.ToMonth {
		return false
	}
	return true
}
