// Package httpapi exposes the board over HTTP: current records, export
// requests, artifact downloads, a websocket stream of updates and metrics.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"yuleboard/internal/blob"
	"yuleboard/internal/board"
	"yuleboard/internal/core"
	"yuleboard/internal/export"
	"yuleboard/pkg/domain"
)

// Board is the presentation state read by the handlers. board.Board
// implements it.
type Board interface {
	Records(ctx context.Context, c domain.Category) ([]domain.Record, error)
	Health(ctx context.Context) ([]board.Health, error)
	Follow(ctx context.Context, fn func(core.Update)) (func(), error)
}

// Exports schedules exports and reports their status. export.Worker
// implements it.
type Exports interface {
	Enqueue(ctx context.Context, req export.Request) (export.Record, error)
	Get(id string) (export.Record, bool)
	List() []export.Record
}

// Options wires the server.
type Options struct {
	Board     Board
	Exports   Exports
	Artifacts blob.Store
	Metrics   http.Handler // served on /metrics when set
	Logger    *slog.Logger

	ExportRate  float64 // export requests per second, default 2
	ExportBurst int     // default 5
	URLExpiry   time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	board     Board
	exports   Exports
	artifacts blob.Store
	metrics   http.Handler
	logger    *slog.Logger
	limiter   *rate.Limiter
	urlExpiry time.Duration
}

// New builds a server from opts.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ExportRate <= 0 {
		opts.ExportRate = 2
	}
	if opts.ExportBurst < 1 {
		opts.ExportBurst = 5
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = 15 * time.Minute
	}
	return &Server{
		board:     opts.Board,
		exports:   opts.Exports,
		artifacts: opts.Artifacts,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		limiter:   rate.NewLimiter(rate.Limit(opts.ExportRate), opts.ExportBurst),
		urlExpiry: opts.URLExpiry,
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/categories", s.handleCategories)
	mux.HandleFunc("GET /api/v1/categories/{category}/records", s.handleRecords)
	mux.HandleFunc("POST /api/v1/exports", s.handleExportCreate)
	mux.HandleFunc("GET /api/v1/exports", s.handleExportList)
	mux.HandleFunc("GET /api/v1/exports/{id}", s.handleExportGet)
	mux.HandleFunc("GET /api/v1/artifacts/{key...}", s.handleArtifact)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.Handle("GET /debug/vars", expvar.Handler())
	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.board.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status, code := "ok", http.StatusOK
	for _, h := range health {
		if h.Status != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{"status": status, "categories": health})
}

type categorySummary struct {
	Category domain.Category `json:"category"`
	Title    string          `json:"title"`
	Columns  []domain.Column `json:"columns"`
	Records  int             `json:"records"`
	Status   string          `json:"status"`
	Region   string          `json:"region"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	health, err := s.board.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	out := make([]categorySummary, 0, len(health))
	for _, h := range health {
		out = append(out, categorySummary{
			Category: h.Category,
			Title:    h.Category.Title(),
			Columns:  h.Category.Columns(),
			Records:  h.Records,
			Status:   h.Status,
			Region:   board.RegionID(h.Category),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	c, err := domain.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	records, err := s.board.Records(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recordsFrame{Category: c, Records: nonNil(records)})
}

type exportRequest struct {
	Category    string `json:"category"`
	Format      string `json:"format"`
	FileName    string `json:"file_name"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "export rate limit exceeded")
		return
	}
	var req exportRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid export request payload")
		return
	}
	c, err := domain.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.exports.Enqueue(r.Context(), export.Request{
		Category:    c,
		Format:      format,
		FileName:    req.FileName,
		RequestedBy: req.RequestedBy,
	})
	switch {
	case errors.Is(err, export.ErrQueueFull), errors.Is(err, export.ErrWorkerStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Location", "/api/v1/exports/"+record.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

func (s *Server) handleExportList(w http.ResponseWriter, _ *http.Request) {
	if s.exports == nil {
		writeJSON(w, http.StatusOK, map[string]any{"exports": []export.Record{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": s.exports.List()})
}

func (s *Server) handleExportGet(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	record, ok := s.exports.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

// handleArtifact streams a stored artifact as an attachment. With ?presign
// it returns a time-limited URL instead, when the backend supports one.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	key := r.PathValue("key")
	if r.URL.Query().Has("presign") {
		info, err := s.artifacts.Head(r.Context(), key)
		if err != nil {
			s.artifactError(w, err)
			return
		}
		url, err := s.artifacts.PresignURL(r.Context(), key, blob.SignedURLOptions{Method: http.MethodGet, Expiry: s.urlExpiry, Filename: info.Filename()})
		if errors.Is(err, blob.ErrUnsupported) {
			writeError(w, http.StatusNotImplemented, "presigned urls not supported by this artifact store")
			return
		}
		if err != nil {
			s.artifactError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url, "expires_in": int(s.urlExpiry.Seconds())})
		return
	}

	info, rc, err := s.artifacts.Get(r.Context(), key)
	if err != nil {
		s.artifactError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Filename()}))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(info.ETag))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("artifact download interrupted", "key", key, "error", err)
	}
}

func (s *Server) artifactError(w http.ResponseWriter, err error) {
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes the websocket upgrade through to the server's writer.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func nonNil(records []domain.Record) []domain.Record {
	if records == nil {
		return []domain.Record{}
	}
	return records
}
