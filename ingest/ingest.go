// Package ingest files one uploaded photo: resolve site, task and
// phase from the chat context and caption, classify by capture time
// when the caption gives no hint, place the bytes in the photo tree
// and record the placement in the index.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"photoreport/caption"
	"photoreport/feature"
	"photoreport/index"
	"photoreport/phase"
	"photoreport/photo"
	"photoreport/store"

	"github.com/bep/imagemeta"
)

// UnspecifiedSite is used when neither chat context nor caption names
// a site; photos still get filed rather than dropped.
const UnspecifiedSite = "UNSPECIFIED"

// ErrNoTimestamp marks a submission with no usable capture time: none
// supplied by the caller and none recoverable from EXIF. Callers with
// another time source can retry; any other ingest error must not be
// retried, the photo may already be placed.
var ErrNoTimestamp = errors.New("no capture timestamp")

// Request is one photo handed over by the upload adapter. Site, Task
// and Phase are optional overrides from the chat session context; the
// caption and timestamps fill in whatever is missing.
type Request struct {
	Bytes      []byte
	Filename   string
	Caption    string
	Site       string
	Task       string
	Phase      photo.Phase
	CapturedAt time.Time
}

// Outcome reports where a photo landed, or why it was rejected.
type Outcome struct {
	Stored     bool        `json:"stored"`
	Path       string      `json:"path,omitempty"`
	Site       string      `json:"site"`
	Task       string      `json:"task"`
	Phase      photo.Phase `json:"phase"`
	CapturedAt time.Time   `json:"captured_at"`
	Reason     string      `json:"reason,omitempty"`
}

// Service wires the ingest pipeline. The index db may be nil for
// tree-only deployments.
type Service struct {
	classifier *phase.Classifier
	locator    *store.Locator
	sites      *caption.Sites
	db         *sql.DB
	log        *slog.Logger
}

// New returns an ingest Service.
func New(classifier *phase.Classifier, locator *store.Locator, sites *caption.Sites, db *sql.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{classifier: classifier, locator: locator, sites: sites, db: db, log: log}
}

// Ingest files one photo and returns the placement outcome. A photo
// captured inside the ambiguous mid-day window with no caption hint is
// rejected, not stored.
func (s *Service) Ingest(ctx context.Context, req Request) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Bytes) == 0 {
		return nil, fmt.Errorf("empty photo payload %q", req.Filename)
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		if ts, ok := exifTime(req.Bytes, req.Filename); ok {
			capturedAt = ts
		} else {
			return nil, fmt.Errorf("%w for %q", ErrNoTimestamp, req.Filename)
		}
	}

	site := req.Site
	if site == "" {
		site = s.sites.Detect(req.Caption)
	}
	if site == "" {
		site = UnspecifiedSite
	}

	task := req.Task
	if task == "" {
		task = caption.DetectTask(req.Caption)
	}

	ph := req.Phase
	if !ph.Valid() {
		ph = caption.DetectPhase(req.Caption)
	}
	if !ph.Valid() {
		ph = s.classifier.Classify(capturedAt)
	}

	out := &Outcome{Site: site, Task: task, Phase: ph, CapturedAt: capturedAt}
	if ph == photo.PhaseRejected {
		out.Reason = fmt.Sprintf("captured at %02d:00 inside the ambiguous mid-day window; caption gave no before/after hint",
			capturedAt.Hour())
		return out, nil
	}

	name := store.Filename(site, task, ph, capturedAt, req.Caption, filepath.Ext(req.Filename))
	path, err := s.locator.Place(capturedAt, site, task, ph, name, bytes.NewReader(req.Bytes))
	if err != nil {
		return nil, err
	}
	out.Stored = true
	out.Path = path

	phash, err := feature.PHash(req.Bytes, path)
	if err != nil {
		// Hash failures only disable the prefilter for this photo.
		s.log.Warn("cannot hash photo", "path", path, "error", err)
	}

	if s.db != nil {
		err := index.Record(s.db, photo.Photo{
			Path:       path,
			Site:       site,
			Task:       task,
			Phase:      ph,
			Month:      capturedAt.Format("2006-01"),
			CapturedAt: capturedAt,
			Size:       int64(len(req.Bytes)),
			ModifiedAt: time.Now().Format(time.RFC3339),
			PHash:      phash,
		})
		if err != nil {
			return nil, fmt.Errorf("photo stored at %s but not indexed: %w", path, err)
		}
	}

	s.log.Info("photo filed", "path", path, "site", site, "task", task, "phase", ph)
	return out, nil
}

// exifTime pulls DateTimeOriginal (falling back to DateTime) out of
// the photo's EXIF block.
func exifTime(buf []byte, filename string) (time.Time, bool) {
	format, ok := imageFormat(filename)
	if !ok {
		return time.Time{}, false
	}

	var dt time.Time
	err := imagemeta.Decode(imagemeta.Options{
		R:           bytes.NewReader(buf),
		ImageFormat: format,
		Sources:     imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Tag == "DateTimeOriginal" || ti.Tag == "DateTime"
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			s, ok := ti.Value.(string)
			if !ok {
				return nil
			}
			ts, perr := time.ParseInLocation("2006:01:02 15:04:05", s, time.Local)
			if perr != nil {
				return nil
			}
			if ti.Tag == "DateTimeOriginal" || dt.IsZero() {
				dt = ts
			}
			return nil
		},
	})
	if err != nil || dt.IsZero() {
		return time.Time{}, false
	}
	return dt, true
}

func imageFormat(filename string) (imagemeta.ImageFormat, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return imagemeta.JPEG, true
	case ".png":
		return imagemeta.PNG, true
	case ".webp":
		return imagemeta.WebP, true
	case ".tif", ".tiff":
		return imagemeta.TIFF, true
	default:
		return imagemeta.JPEG, false
	}
}
