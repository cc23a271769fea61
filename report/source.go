package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"photoreport/index"
	"photoreport/photo"
	"photoreport/store"
)

// IndexSource lists group photos from the sqlite placement index.
type IndexSource struct {
	db *sql.DB
}

// NewIndexSource wraps an open placement index.
func NewIndexSource(db *sql.DB) *IndexSource {
	return &IndexSource{db: db}
}

// Photos implements Source.
func (s *IndexSource) Photos(g photo.Group, ph photo.Phase) ([]photo.Photo, error) {
	return index.SelectGroup(s.db, g, ph)
}

var monthName = regexp.MustCompile(`^\d{4}-\d{2}$`)

// TreeSource lists group photos by walking the photo tree directly.
// Used when photos were filed by an older deployment that kept no
// index; phases come from the directory layout alone.
type TreeSource struct {
	root string
}

// NewTreeSource returns a TreeSource over the save root.
func NewTreeSource(root string) *TreeSource {
	return &TreeSource{root: root}
}

// Photos implements Source.
func (s *TreeSource) Photos(g photo.Group, ph photo.Phase) ([]photo.Photo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("cannot read save root %s: %w", s.root, err)
	}

	var out []photo.Photo
	for _, e := range entries {
		if !e.IsDir() || !monthName.MatchString(e.Name()) {
			continue
		}
		month := e.Name()
		if !g.Contains(month) {
			continue
		}
		dir := filepath.Join(s.root, month, g.Site, g.Task, string(ph))
		files, err := store.ListPhase(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, photo.Photo{
				Path:  f,
				Site:  g.Site,
				Task:  g.Task,
				Phase: ph,
				Month: month,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
