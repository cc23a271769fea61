package report

import (
	"os"
	"path/filepath"
	"testing"

	"photoreport/photo"
)

func writePhoto(t *testing.T, root, month, site, task, phase, name string) string {
	t.Helper()
	dir := filepath.Join(root, month, site, task, phase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTreeSourceListsGroupPhotos(t *testing.T) {
	root := t.TempDir()
	b1 := writePhoto(t, root, "2025-06", "ECHO", "grass_cutting", "before", "b1.jpg")
	b2 := writePhoto(t, root, "2025-06", "ECHO", "grass_cutting", "before", "b2.jpg")
	writePhoto(t, root, "2025-06", "ECHO", "grass_cutting", "after", "a1.jpg")
	// Other site and task directories must not leak into the group.
	writePhoto(t, root, "2025-06", "DELTA", "grass_cutting", "before", "other.jpg")
	writePhoto(t, root, "2025-06", "ECHO", "drainage_cleaning", "before", "other.jpg")

	s := NewTreeSource(root)
	g := photo.Group{Site: "ECHO", Task: "grass_cutting"}

	befores, err := s.Photos(g, photo.PhaseBefore)
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(befores) != 2 || befores[0].Path != b1 || befores[1].Path != b2 {
		t.Fatalf("befores = %+v, want [%s %s]", befores, b1, b2)
	}
	if befores[0].Month != "2025-06" || befores[0].Phase != photo.PhaseBefore {
		t.Errorf("metadata = %+v", befores[0])
	}

	afters, err := s.Photos(g, photo.PhaseAfter)
	if err != nil {
		t.Fatalf("Photos after: %v", err)
	}
	if len(afters) != 1 {
		t.Errorf("afters = %+v, want one", afters)
	}
}

func TestTreeSourceMonthRange(t *testing.T) {
	root := t.TempDir()
	writePhoto(t, root, "2025-05", "ECHO", "grass_cutting", "before", "old.jpg")
	kept := writePhoto(t, root, "2025-06", "ECHO", "grass_cutting", "before", "new.jpg")
	// Non-month directories at the root are skipped entirely.
	if err := os.MkdirAll(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewTreeSource(root)
	g := photo.Group{Site: "ECHO", Task: "grass_cutting", FromMonth: "2025-06", ToMonth: "2025-06"}

	got, err := s.Photos(g, photo.PhaseBefore)
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(got) != 1 || got[0].Path != kept {
		t.Errorf("got = %+v, want only %s", got, kept)
	}
}

func TestTreeSourceEmptyGroup(t *testing.T) {
	s := NewTreeSource(t.TempDir())
	got, err := s.Photos(photo.Group{Site: "ECHO", Task: "grass_cutting"}, photo.PhaseBefore)
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got = %+v, want none", got)
	}
}
