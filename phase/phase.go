// Package phase classifies capture timestamps into the before/after
// work window. Photos taken in the mid-day gap between the two
// boundaries are rejected on purpose: a shot taken while work is in
// progress is ambiguous and would poison the pairing.
package phase

import (
	"fmt"
	"time"

	"photoreport/photo"
)

// Classifier maps a capture timestamp to a phase given two hour
// boundaries. It is a pure function of the timestamp's local hour, so
// callers must hand it timestamps in one consistent time zone.
type Classifier struct {
	beforeHour int
	afterHour  int
}

// NewClassifier validates the window and returns a Classifier.
// beforeHour == afterHour would collapse the rejection gap to nothing
// and silently reclassify every mid-day photo, so it is an error.
func NewClassifier(beforeHour, afterHour int) (*Classifier, error) {
	if beforeHour < 0 || beforeHour > 23 {
		return nil, fmt.Errorf("before hour out of range: %d", beforeHour)
	}
	if afterHour < 0 || afterHour > 23 {
		return nil, fmt.Errorf("after hour out of range: %d", afterHour)
	}
	if beforeHour >= afterHour {
		return nil, fmt.Errorf("degenerate hour window: before=%d after=%d", beforeHour, afterHour)
	}
	return &Classifier{beforeHour: beforeHour, afterHour: afterHour}, nil
}

// Classify returns the phase for the given capture time.
func (c *Classifier) Classify(capturedAt time.Time) photo.Phase {
	h := capturedAt.Hour()
	switch {
	case h < c.beforeHour:
		return photo.PhaseBefore
	case h >= c.afterHour:
		return photo.PhaseAfter
	default:
		return photo.PhaseRejected
	}
}
