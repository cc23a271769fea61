// Package web exposes the report-build trigger and upload interfaces
// over HTTP for the interactive fast path. The document renderer stays
// external; this API hands it assignments as JSON.
package web

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"photoreport/index"
	"photoreport/ingest"
	"photoreport/photo"
	"photoreport/report"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server holds the handler dependencies.
type Server struct {
	builder *report.Builder
	ingest  *ingest.Service
	db      *sql.DB
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// maxFinishedJobs bounds how many completed jobs stay pollable; older
// results are evicted when a new build starts.
const maxFinishedJobs = 32

type job struct {
	id       string
	group    photo.Group
	progress *report.Progress
	cancel   context.CancelFunc

	mu         sync.Mutex
	result     *report.Result
	err        error
	finishedAt time.Time
}

// NewServer wires a Server. The index db may be nil when running
// tree-only; group listing then returns 503.
func NewServer(builder *report.Builder, ingestSvc *ingest.Service, db *sql.DB, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		builder: builder,
		ingest:  ingestSvc,
		db:      db,
		log:     log,
		jobs:    make(map[string]*job),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthCheck)

	api := r.Group("/api")
	{
		api.GET("/groups", s.listGroups)
		api.POST("/photos", s.uploadPhoto)
		api.POST("/reports", s.startReport)
		api.GET("/reports/:id", s.reportStatus)
		api.DELETE("/reports/:id", s.cancelReport)
	}

	return r
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("web server starting", "addr", addr)
	return s.Router().Run(addr)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "photoreport"})
}

func (s *Server) listGroups(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "placement index not configured"})
		return
	}
	groups, err := index.ListGroups(s.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) uploadPhoto(c *gin.Context) {
	if s.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest not configured"})
		return
	}

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing photo file"})
		return
	}
	defer file.Close()

	buf, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read photo file"})
		return
	}

	req := ingest.Request{
		Bytes:    buf,
		Filename: header.Filename,
		Caption:  c.PostForm("caption"),
		Site:     c.PostForm("site"),
		Task:     c.PostForm("task"),
	}
	if ts := c.PostForm("captured_at"); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "captured_at must be RFC3339"})
			return
		}
		req.CapturedAt = parsed
	}

	out, err := s.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusCreated
	if !out.Stored {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

type startReportRequest struct {
	Site      string `json:"site" binding:"required"`
	Task      string `json:"task" binding:"required"`
	FromMonth string `json:"from_month"`
	ToMonth   string `json:"to_month"`
}

func (s *Server) startReport(c *gin.Context) {
	var req startReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site and task are required"})
		return
	}

	g := photo.Group{Site: req.Site, Task: req.Task, FromMonth: req.FromMonth, ToMonth: req.ToMonth}

	s.pruneJobs()

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:       uuid.New().String(),
		group:    g,
		progress: report.NewProgress(),
		cancel:   cancel,
	}
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	go func() {
		defer cancel()
		result, err := s.builder.Build(ctx, g, j.progress)
		j.mu.Lock()
		j.result, j.err = result, err
		j.finishedAt = time.Now()
		j.mu.Unlock()
		if err != nil {
			j.progress.Fail(err)
			s.log.Error("report build failed", "job", j.id, "error", err)
		} else {
			s.log.Info("report build done", "job", j.id,
				"pairs", len(result.Assignment.Pairs), "failures", len(result.Failures))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"job_id": j.id})
}

func (s *Server) reportStatus(c *gin.Context) {
	j := s.lookupJob(c.Param("id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such job"})
		return
	}

	j.mu.Lock()
	result, jobErr := j.result, j.err
	j.mu.Unlock()

	resp := gin.H{
		"job_id":   j.id,
		"group":    j.group,
		"progress": j.progress.Snapshot(),
	}
	if jobErr != nil {
		resp["error"] = jobErr.Error()
	} else if result != nil {
		resp["result"] = result
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelReport(c *gin.Context) {
	j := s.lookupJob(c.Param("id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such job"})
		return
	}
	j.cancel()
	c.JSON(http.StatusOK, gin.H{"job_id": j.id, "cancelled": true})
}

func (s *Server) lookupJob(id string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// pruneJobs evicts the oldest finished jobs beyond maxFinishedJobs so
// a long-lived server does not accumulate results forever. Running
// jobs are never evicted.
func (s *Server) pruneJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	type done struct {
		id string
		at time.Time
	}
	var finished []done
	for id, j := range s.jobs {
		j.mu.Lock()
		if !j.finishedAt.IsZero() {
			finished = append(finished, done{id: id, at: j.finishedAt})
		}
		j.mu.Unlock()
	}
	if len(finished) <= maxFinishedJobs {
		return
	}

	sort.Slice(finished, func(i, k int) bool { return finished[i].at.Before(finished[k].at) })
	for _, d := range finished[:len(finished)-maxFinishedJobs] {
		delete(s.jobs, d.id)
	}
}
