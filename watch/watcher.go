// Package watch ingests photos dropped into a spool directory, so a
// chat adapter can be a plain file-dropper. Files are ingested once
// they stop growing; the filename doubles as the caption.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"photoreport/ingest"
	"photoreport/store"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a file must be quiet before ingesting, so a
// half-copied photo is not picked up.
const settleDelay = 2 * time.Second

// Watcher monitors one spool directory.
type Watcher struct {
	dir string
	svc *ingest.Service
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New returns a Watcher over dir.
func New(dir string, svc *ingest.Service, log *slog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", dir)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{dir: dir, svc: svc, log: log, pending: make(map[string]*time.Timer)}, nil
}

// Run watches until ctx is cancelled. Files already in the spool when
// the watcher starts are ingested too.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("cannot watch %s: %w", w.dir, err)
	}
	w.log.Info("watching spool directory", "dir", w.dir)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

// schedule (re)arms the settle timer for a path. Every Write event
// pushes processing back, so the file is only picked up once quiet.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !store.IsImageFile(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

// process ingests one spooled file, removing it on success and parking
// it with a .rejected suffix otherwise. The filename stem acts as the
// caption, EXIF supplies the capture time with file mtime as the
// fallback.
func (w *Watcher) process(ctx context.Context, path string) {
	buf, err := os.ReadFile(path)
	if err != nil {
		w.log.Error("cannot read spooled photo", "path", path, "error", err)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		w.log.Error("cannot stat spooled photo", "path", path, "error", err)
		return
	}

	name := filepath.Base(path)
	capt := strings.TrimSuffix(name, filepath.Ext(name))

	req := ingest.Request{Bytes: buf, Filename: name, Caption: capt}
	out, err := w.svc.Ingest(ctx, req)
	if errors.Is(err, ingest.ErrNoTimestamp) {
		// The file's mtime is the next best approximation of when the
		// photo arrived. Only this error is retried: any other failure
		// may have already placed the photo.
		req.CapturedAt = info.ModTime()
		out, err = w.svc.Ingest(ctx, req)
	}
	if err != nil {
		w.log.Error("cannot ingest spooled photo", "path", path, "error", err)
		return
	}

	if out.Stored {
		w.log.Info("spooled photo filed", "from", path, "to", out.Path)
		if err := os.Remove(path); err != nil {
			w.log.Error("cannot remove spooled photo", "path", path, "error", err)
		}
		return
	}

	// Keep rejected photos in the spool for manual review. The suffix
	// takes them out of the image filter so restarts skip them.
	w.log.Warn("spooled photo rejected", "path", path, "reason", out.Reason)
	if err := os.Rename(path, path+".rejected"); err != nil {
		w.log.Error("cannot park rejected photo", "path", path, "error", err)
	}
}
