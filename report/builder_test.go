package report

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"photoreport/config"
	"photoreport/feature"
	"photoreport/photo"
)

type fakeSource struct {
	photos map[photo.Phase][]photo.Photo
}

func (s *fakeSource) Photos(g photo.Group, ph photo.Phase) ([]photo.Photo, error) {
	return s.photos[ph], nil
}

type fakeExtractor struct {
	sets map[string]*feature.Set
}

func (e *fakeExtractor) ExtractFile(path string) (*feature.Set, error) {
	set, ok := e.sets[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", feature.ErrUnreadable, path)
	}
	return set, nil
}

func rep(b byte) []byte {
	d := make([]byte, feature.DescriptorSize)
	for i := range d {
		d[i] = b
	}
	return d
}

func descSet(path string, descs ...[]byte) *feature.Set {
	return &feature.Set{Path: path, Descriptors: descs, Scale: 1.0}
}

func testConfig() config.Config {
	return config.Config{
		Ratio:      0.75,
		TopK:       5,
		MinScore:   0,
		MaxWorkers: 4,
	}
}

func ph(path string, phase photo.Phase, hash uint64) photo.Photo {
	return photo.Photo{Path: path, Site: "ECHO", Task: "grass_cutting", Phase: phase, PHash: hash}
}

// One before photo against three afters where the second shares its
// features: the matcher must rank it first and the selector must pair
// it, leaving the other two unmatched.
func TestBuildPairsMostSimilarCandidate(t *testing.T) {
	source := &fakeSource{photos: map[photo.Phase][]photo.Photo{
		photo.PhaseBefore: {ph("b1", photo.PhaseBefore, 0)},
		photo.PhaseAfter:  {ph("a1", photo.PhaseAfter, 0), ph("a2", photo.PhaseAfter, 0), ph("a3", photo.PhaseAfter, 0)},
	}}
	extractor := &fakeExtractor{sets: map[string]*feature.Set{
		"b1": descSet("b1", rep(0x00), rep(0xFF), rep(0x0F)),
		"a1": descSet("a1", rep(0xAA), rep(0x55)),
		"a2": descSet("a2", rep(0x00), rep(0xFF), rep(0x0F)),
		"a3": descSet("a3", rep(0x33), rep(0xCC)),
	}}

	b := NewBuilder(testConfig(), source, extractor)
	result, err := b.Build(context.Background(), photo.Group{Site: "ECHO", Task: "grass_cutting"}, NewProgress())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(result.Assignment.Pairs) != 1 {
		t.Fatalf("pairs = %+v, want exactly one", result.Assignment.Pairs)
	}
	pair := result.Assignment.Pairs[0]
	if pair.Before != "b1" || pair.After != "a2" {
		t.Errorf("pair = %s->%s, want b1->a2", pair.Before, pair.After)
	}
	if !reflect.DeepEqual(result.Assignment.UnmatchedAfter, []string{"a1", "a3"}) {
		t.Errorf("unmatched after = %v, want [a1 a3]", result.Assignment.UnmatchedAfter)
	}
	if result.BeforeCount != 1 || result.AfterCount != 3 {
		t.Errorf("counts = %d/%d, want 1/3", result.BeforeCount, result.AfterCount)
	}
}

// A corrupt photo is excluded and reported; the rest of the group
// still matches and the build completes.
func TestBuildPartialSuccessOnUnreadablePhoto(t *testing.T) {
	source := &fakeSource{photos: map[photo.Phase][]photo.Photo{
		photo.PhaseBefore: {ph("b1", photo.PhaseBefore, 0), ph("b2-corrupt", photo.PhaseBefore, 0)},
		photo.PhaseAfter:  {ph("a1", photo.PhaseAfter, 0)},
	}}
	extractor := &fakeExtractor{sets: map[string]*feature.Set{
		"b1": descSet("b1", rep(0x00), rep(0xFF)),
		"a1": descSet("a1", rep(0x00), rep(0xFF)),
		// b2-corrupt intentionally absent: extraction fails.
	}}

	b := NewBuilder(testConfig(), source, extractor)
	result, err := b.Build(context.Background(), photo.Group{Site: "ECHO", Task: "grass_cutting"}, NewProgress())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(result.Failures) != 1 || result.Failures[0].Path != "b2-corrupt" {
		t.Fatalf("failures = %+v, want b2-corrupt only", result.Failures)
	}
	if len(result.Assignment.Pairs) != 1 || result.Assignment.Pairs[0].Before != "b1" {
		t.Errorf("pairs = %+v, want b1->a1", result.Assignment.Pairs)
	}
	if !reflect.DeepEqual(result.Assignment.UnmatchedBefore, []string{"b2-corrupt"}) {
		t.Errorf("unmatched before = %v, want [b2-corrupt]", result.Assignment.UnmatchedBefore)
	}
}

func TestBuildCancelled(t *testing.T) {
	source := &fakeSource{photos: map[photo.Phase][]photo.Photo{
		photo.PhaseBefore: {ph("b1", photo.PhaseBefore, 0)},
		photo.PhaseAfter:  {ph("a1", photo.PhaseAfter, 0)},
	}}
	extractor := &fakeExtractor{sets: map[string]*feature.Set{
		"b1": descSet("b1", rep(0x00), rep(0xFF)),
		"a1": descSet("a1", rep(0x00), rep(0xFF)),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(testConfig(), source, extractor)
	_, err := b.Build(ctx, photo.Group{Site: "ECHO", Task: "grass_cutting"}, NewProgress())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBuildDeterministic(t *testing.T) {
	source := &fakeSource{photos: map[photo.Phase][]photo.Photo{
		photo.PhaseBefore: {ph("b1", photo.PhaseBefore, 0), ph("b2", photo.PhaseBefore, 0)},
		photo.PhaseAfter:  {ph("a1", photo.PhaseAfter, 0), ph("a2", photo.PhaseAfter, 0)},
	}}
	extractor := &fakeExtractor{sets: map[string]*feature.Set{
		"b1": descSet("b1", rep(0x00), rep(0xFF)),
		"b2": descSet("b2", rep(0x00), rep(0xFF)),
		"a1": descSet("a1", rep(0x00), rep(0xFF)),
		"a2": descSet("a2", rep(0x00), rep(0xFF)),
	}}

	b := NewBuilder(testConfig(), source, extractor)
	g := photo.Group{Site: "ECHO", Task: "grass_cutting"}

	first, err := b.Build(context.Background(), g, NewProgress())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := b.Build(context.Background(), g, NewProgress())
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if !reflect.DeepEqual(first.Assignment, again.Assignment) {
			t.Fatalf("run %d assignment differs:\n%+v\n%+v", i, first.Assignment, again.Assignment)
		}
		if !reflect.DeepEqual(first.Failures, again.Failures) {
			t.Fatalf("run %d failures differ", i)
		}
	}
}

// With the prefilter on, only the TopK nearest afters by perceptual
// hash are descriptor-matched.
func TestBuildPrefilterNarrowsCandidates(t *testing.T) {
	cfg := testConfig()
	cfg.Prefilter = true
	cfg.TopK = 1

	source := &fakeSource{photos: map[photo.Phase][]photo.Photo{
		photo.PhaseBefore: {ph("b1", photo.PhaseBefore, 0xFF00FF00FF00FF00)},
		photo.PhaseAfter: {
			// a1 is identical by descriptors but far by hash; a2 is the
			// hash-nearest so the prefilter keeps only a2.
			ph("a1", photo.PhaseAfter, 0x00FF00FF00FF00FF),
			ph("a2", photo.PhaseAfter, 0xFF00FF00FF00FF01),
		},
	}}
	extractor := &fakeExtractor{sets: map[string]*feature.Set{
		"b1": descSet("b1", rep(0x00), rep(0xFF)),
		"a1": descSet("a1", rep(0x00), rep(0xFF)),
		"a2": descSet("a2", rep(0xAA), rep(0x55)),
	}}

	b := NewBuilder(cfg, source, extractor)
	result, err := b.Build(context.Background(), photo.Group{Site: "ECHO", Task: "grass_cutting"}, NewProgress())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(result.Assignment.Pairs) != 1 {
		t.Fatalf("pairs = %+v", result.Assignment.Pairs)
	}
	if got := result.Assignment.Pairs[0].After; got != "a2" {
		t.Errorf("prefilter pair = b1->%s, want b1->a2 (hash-nearest)", got)
	}
}

func TestBuildEmptyGroup(t *testing.T) {
	source := &fakeSource{photos: map[photo.Phase][]photo.Photo{}}
	b := NewBuilder(testConfig(), source, &fakeExtractor{})

	result, err := b.Build(context.Background(), photo.Group{Site: "ECHO", Task: "grass_cutting"}, NewProgress())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Assignment.Pairs) != 0 || len(result.Failures) != 0 {
		t.Errorf("empty group produced %+v", result)
	}
}

func TestProgressSnapshots(t *testing.T) {
	p := NewProgress()
	if s := p.Snapshot(); s.State != StateQueued {
		t.Errorf("initial state = %s", s.State)
	}
	p.setState(StateExtracting, 4)
	p.step()
	p.step()
	s := p.Snapshot()
	if s.State != StateExtracting || s.Done != 2 || s.Total != 4 {
		t.Errorf("snapshot = %+v", s)
	}
	p.Fail(errors.New("boom"))
	if s := p.Snapshot(); s.State != StateError || s.Error != "boom" {
		t.Errorf("failed snapshot = %+v", s)
	}
}
