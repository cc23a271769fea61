// Package store places classified photos into the hierarchical photo
// tree: <root>/<YYYY-MM>/<site>/<task>/<before|after>/<filename>. The
// layout is shared with the external report renderer and must not
// change shape.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"photoreport/photo"
)

// ErrStorage marks placement failures. The target file is never left
// partially written: writes go to a temp file in the target directory
// and are renamed into place only once complete.
var ErrStorage = errors.New("storage failure")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Locator computes canonical paths and moves photo bytes into them.
type Locator struct {
	root string

	mu       sync.Mutex
	dirLocks map[string]*sync.Mutex
}

// NewLocator creates the save root if missing and returns a Locator.
func NewLocator(root string) (*Locator, error) {
	if root == "" {
		return nil, fmt.Errorf("save root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create save root %s: %w", root, err)
	}
	return &Locator{root: root, dirLocks: make(map[string]*sync.Mutex)}, nil
}

// Root returns the save root directory.
func (l *Locator) Root() string { return l.root }

// Dir returns the canonical directory for a (month, site, task, phase)
// group. Pure; recomputing from the same inputs yields the same path.
func (l *Locator) Dir(capturedAt time.Time, site, task string, ph photo.Phase) string {
	month := capturedAt.Format("2006-01")
	return filepath.Join(l.root, month, site, task, string(ph))
}

// Filename derives the canonical base filename for a placement. The
// caption fragment is sanitized and truncated the same way regardless
// of platform so reruns produce identical names.
func Filename(site, task string, ph photo.Phase, capturedAt time.Time, caption, ext string) string {
	safe := unsafeChars.ReplaceAllString(strings.TrimSpace(caption), "_")
	if len(safe) > 40 {
		safe = safe[:40]
	}
	if safe == "" || safe == "_" {
		safe = "photo"
	}
	if ext == "" {
		ext = ".jpg"
	}
	ts := capturedAt.Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s_%s_%s%s", strings.ToLower(site), task, ph, ts, safe, strings.ToLower(ext))
}

// Place writes the photo bytes under the canonical directory for the
// group, creating missing levels. On filename collision a -1, -2, ...
// suffix is appended; an existing photo is never overwritten. Returns
// the final path.
func (l *Locator) Place(capturedAt time.Time, site, task string, ph photo.Phase, name string, r io.Reader) (string, error) {
	if !ph.Valid() {
		return "", fmt.Errorf("%w: cannot place photo with phase %q", ErrStorage, ph)
	}

	dir := l.Dir(capturedAt, site, task, ph)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %v", ErrStorage, dir, err)
	}

	// Two concurrent placements into the same group must not race on
	// the collision counter.
	lock := l.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("%w: cannot create temp file in %s: %v", ErrStorage, dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: cannot write %s: %v", ErrStorage, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: cannot finish %s: %v", ErrStorage, name, err)
	}

	dest := uniquePath(filepath.Join(dir, name))
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: cannot move %s into place: %v", ErrStorage, name, err)
	}

	return dest, nil
}

func (l *Locator) dirLock(dir string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.dirLocks[dir]
	if !ok {
		lock = &sync.Mutex{}
		l.dirLocks[dir] = lock
	}
	return lock
}

// uniquePath returns path if free, otherwise the first stem-N variant
// that does not exist yet.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
}

// ListPhase returns the image files in one phase directory of a group,
// sorted by name. Missing directories are an empty group, not an error.
func ListPhase(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsImageFile(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// IsImageFile checks if a file extension belongs to a supported image
// file. Chat channels transcode uploads, so the list is short.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp":
		return true
	default:
		return false
	}
}
