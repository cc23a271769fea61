// Package report orchestrates one report build: load the group's
// before and after photos, extract features on a bounded worker pool,
// match, and resolve the final assignment. Per-photo failures are
// collected and reported alongside the result; only cancellation and
// group-listing failures abort the build.
package report

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"photoreport/config"
	"photoreport/feature"
	"photoreport/match"
	"photoreport/photo"
)

// Extractor is the slice of the feature package the builder needs;
// tests substitute a fake that never touches OpenCV.
type Extractor interface {
	ExtractFile(path string) (*feature.Set, error)
}

// Source lists the photos of one phase of a group.
type Source interface {
	Photos(g photo.Group, ph photo.Phase) ([]photo.Photo, error)
}

// Failure records one photo excluded from the build.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the outcome of a completed build. Failed photos also
// appear in the assignment's unmatched lists, so the renderer sees one
// consistent roster.
type Result struct {
	Group       photo.Group      `json:"group"`
	Assignment  match.Assignment `json:"assignment"`
	Failures    []Failure        `json:"failures,omitempty"`
	BeforeCount int              `json:"before_count"`
	AfterCount  int              `json:"after_count"`
	Elapsed     time.Duration    `json:"elapsed"`
}

// Builder runs report builds. It is stateless between builds; each
// build owns its FeatureSet cache and discards it at the end.
type Builder struct {
	cfg     config.Config
	source  Source
	extract Extractor
}

// NewBuilder wires a Builder from its collaborators.
func NewBuilder(cfg config.Config, source Source, extract Extractor) *Builder {
	return &Builder{cfg: cfg, source: source, extract: extract}
}

// Build produces the assignment for one group. A cancelled context
// aborts between per-photo units and returns ctx's error, so an
// abandoned build is distinguishable from an empty one.
func (b *Builder) Build(ctx context.Context, g photo.Group, progress *Progress) (*Result, error) {
	start := time.Now()
	progress.setState(StateListing)

	befores, err := b.source.Photos(g, photo.PhaseBefore)
	if err != nil {
		return nil, fmt.Errorf("cannot list before photos for %s/%s: %w", g.Site, g.Task, err)
	}
	afters, err := b.source.Photos(g, photo.PhaseAfter)
	if err != nil {
		return nil, fmt.Errorf("cannot list after photos for %s/%s: %w", g.Site, g.Task, err)
	}

	progress.setCounts(len(befores), len(afters))

	// The per-run feature cache: photo path -> extracted set. Sets are
	// read-only once stored and shared freely across matching tasks.
	run := &buildRun{
		sets:     make(map[string]*feature.Set, len(befores)+len(afters)),
		progress: progress,
	}

	progress.setState(StateExtracting, len(befores)+len(afters))
	if err := b.extractAll(ctx, run, befores, afters); err != nil {
		return nil, err
	}

	progress.setState(StateMatching, len(befores))
	candidates, err := b.matchAll(ctx, run, befores, afters)
	if err != nil {
		return nil, err
	}

	progress.setState(StateSelecting)
	selector := match.NewSelector(b.cfg.MinScore)
	assignment := selector.Select(candidates, paths(befores), paths(afters))

	progress.finish(len(assignment.Pairs), len(assignment.UnmatchedBefore)+len(assignment.UnmatchedAfter))

	sort.Slice(run.failures, func(i, j int) bool { return run.failures[i].Path < run.failures[j].Path })
	return &Result{
		Group:       g,
		Assignment:  assignment,
		Failures:    run.failures,
		BeforeCount: len(befores),
		AfterCount:  len(afters),
		Elapsed:     time.Since(start),
	}, nil
}

type buildRun struct {
	mu       sync.Mutex
	sets     map[string]*feature.Set
	failures []Failure
	progress *Progress
}

func (r *buildRun) storeSet(path string, set *feature.Set) {
	r.mu.Lock()
	r.sets[path] = set
	r.mu.Unlock()
}

func (r *buildRun) storeFailure(path string, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, Failure{Path: path, Reason: err.Error()})
	r.mu.Unlock()
}

// extractAll runs feature extraction for every photo of the group on a
// semaphore-bounded pool. Unreadable photos become failures, not build
// errors.
func (b *Builder) extractAll(ctx context.Context, run *buildRun, groups ...[]photo.Photo) error {
	sem := make(chan struct{}, b.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for _, group := range groups {
		for _, p := range group {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(p photo.Photo) {
				defer wg.Done()
				defer func() { <-sem }()
				if ctx.Err() != nil {
					return
				}
				set, err := b.extract.ExtractFile(p.Path)
				if err != nil {
					run.storeFailure(p.Path, err)
				} else {
					run.storeSet(p.Path, set)
				}
				run.progress.step()
			}(p)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("report build cancelled during extraction: %w", err)
	}
	return nil
}

// matchAll ranks candidates for every readable before photo. Before
// photos are independent, so they run on the same bounded pool; the
// selector does not start until every matcher call has finished.
func (b *Builder) matchAll(ctx context.Context, run *buildRun, befores, afters []photo.Photo) ([]match.Candidate, error) {
	matcher := match.NewMatcher(b.cfg.Ratio, b.cfg.TopK)

	sem := make(chan struct{}, b.cfg.MaxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []match.Candidate

	for _, bp := range befores {
		beforeSet := run.sets[bp.Path]
		if beforeSet == nil {
			continue // failed extraction, stays unmatched
		}
		if ctx.Err() != nil {
			break
		}

		candidates := b.candidateSets(bp, afters, run)
		wg.Add(1)
		sem <- struct{}{}
		go func(set *feature.Set, candidates []*feature.Set) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			ranked := matcher.Rank(set, candidates)
			mu.Lock()
			out = append(out, ranked...)
			mu.Unlock()
			run.progress.step()
		}(beforeSet, candidates)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("report build cancelled during matching: %w", err)
	}
	return out, nil
}

// candidateSets returns the after feature sets one before photo is
// scored against: every readable after photo, or with the prefilter on,
// only the TopK nearest by perceptual hash.
func (b *Builder) candidateSets(bp photo.Photo, afters []photo.Photo, run *buildRun) []*feature.Set {
	if !b.cfg.Prefilter || bp.PHash == 0 {
		sets := make([]*feature.Set, 0, len(afters))
		for _, a := range afters {
			if set := run.sets[a.Path]; set != nil {
				sets = append(sets, set)
			}
		}
		return sets
	}

	type scored struct {
		p    photo.Photo
		dist int
	}
	ranked := make([]scored, 0, len(afters))
	for _, a := range afters {
		if run.sets[a.Path] == nil {
			continue
		}
		if a.PHash == 0 {
			// Hash unavailable: keep the candidate rather than
			// silently dropping it from consideration.
			ranked = append(ranked, scored{p: a, dist: 0})
			continue
		}
		ranked = append(ranked, scored{p: a, dist: feature.HashDistance(bp.PHash, a.PHash)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].dist != ranked[j].dist {
			return ranked[i].dist < ranked[j].dist
		}
		return ranked[i].p.Path < ranked[j].p.Path
	})
	if len(ranked) > b.cfg.TopK {
		ranked = ranked[:b.cfg.TopK]
	}

	sets := make([]*feature.Set, 0, len(ranked))
	for _, s := range ranked {
		sets = append(sets, run.sets[s.p.Path])
	}
	return sets
}

func paths(photos []photo.Photo) []string {
	out := make([]string, len(photos))
	for i, p := range photos {
		out[i] = p.Path
	}
	return out
}
