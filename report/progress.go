package report

import "sync"

// Build states, in order.
const (
	StateQueued     = "queued"
	StateListing    = "listing"
	StateExtracting = "extracting"
	StateMatching   = "matching"
	StateSelecting  = "selecting"
	StateDone       = "done"
	StateError      = "error"
)

// Progress tracks a build for interactive callers. All methods are
// safe for concurrent use; the builder writes, pollers read snapshots.
type Progress struct {
	mu        sync.Mutex
	state     string
	total     int
	done      int
	before    int
	after     int
	matched   int
	unmatched int
	errMsg    string
}

// Snapshot is a point-in-time copy of a build's progress.
type Snapshot struct {
	State     string `json:"state"`
	Total     int    `json:"total"`
	Done      int    `json:"done"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
	Matched   int    `json:"matched"`
	Unmatched int    `json:"unmatched"`
	Error     string `json:"error,omitempty"`
}

// NewProgress returns a Progress in the queued state.
func NewProgress() *Progress {
	return &Progress{state: StateQueued}
}

func (p *Progress) setState(state string, total ...int) {
	p.mu.Lock()
	p.state = state
	if len(total) > 0 {
		p.total = total[0]
		p.done = 0
	}
	p.mu.Unlock()
}

func (p *Progress) setCounts(before, after int) {
	p.mu.Lock()
	p.before = before
	p.after = after
	p.mu.Unlock()
}

func (p *Progress) step() {
	p.mu.Lock()
	p.done++
	p.mu.Unlock()
}

func (p *Progress) finish(matched, unmatched int) {
	p.mu.Lock()
	p.state = StateDone
	p.matched = matched
	p.unmatched = unmatched
	p.mu.Unlock()
}

// Fail marks the build as errored for pollers.
func (p *Progress) Fail(err error) {
	p.mu.Lock()
	p.state = StateError
	p.errMsg = err.Error()
	p.mu.Unlock()
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		State:     p.state,
		Total:     p.total,
		Done:      p.done,
		Before:    p.before,
		After:     p.after,
		Matched:   p.matched,
		Unmatched: p.unmatched,
		Error:     p.errMsg,
	}
}
