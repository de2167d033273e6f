package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"yuleboard/internal/board"
	"yuleboard/pkg/domain"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrWorkerStopped is returned by Enqueue after Stop.
var ErrWorkerStopped = errors.New("export worker stopped")

// ErrQueueFull is returned when the pending queue has no room.
var ErrQueueFull = errors.New("export queue full")

// Request is an export order.
type Request struct {
	Category    domain.Category `json:"category"`
	Format      Format          `json:"format"`
	FileName    string          `json:"file_name"`
	RequestedBy string          `json:"requested_by,omitempty"`
}

// Record tracks an export request and its artifact.
type Record struct {
	ID          string          `json:"id"`
	Category    domain.Category `json:"category"`
	Format      Format          `json:"format"`
	FileName    string          `json:"file_name"`
	RequestedBy string          `json:"requested_by,omitempty"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Artifact    *Artifact       `json:"artifact,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	dup := r
	if r.Artifact != nil {
		a := *r.Artifact
		dup.Artifact = &a
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

// Terminal reports whether the record reached succeeded or failed.
func (r Record) Terminal() bool { return r.Status == StatusSucceeded || r.Status == StatusFailed }

// RecordReader supplies the current ordered records of a category.
// board.Board implements it.
type RecordReader interface {
	Records(ctx context.Context, c domain.Category) ([]domain.Record, error)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one status transition of an export.
type AuditEntry struct {
	ID         string          `json:"id"`
	ExportID   string          `json:"export_id"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor"`
	Category   domain.Category `json:"category"`
	Format     Format          `json:"format"`
	Status     Status          `json:"status"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Worker executes exports asynchronously, one at a time.
type Worker struct {
	pipeline *Pipeline
	records  RecordReader
	audit    AuditLogger
	logger   *slog.Logger

	mu      sync.RWMutex
	queue   chan string
	jobs    map[string]*Record
	order   []string
	history int
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithAudit sets the audit logger.
func WithAudit(a AuditLogger) WorkerOption { return func(w *Worker) { w.audit = a } }

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithQueueSize sets the number of pending requests accepted (default 32).
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithHistoryLimit caps the records kept for Get and List (default 256).
// Past the cap the oldest finished records are forgotten; queued and running
// ones are always kept.
func WithHistoryLimit(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.history = n
		}
	}
}

// NewWorker constructs an export worker. Call Start to begin processing.
func NewWorker(p *Pipeline, records RecordReader, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pipeline: p,
		records:  records,
		logger:   slog.Default(),
		queue:    make(chan string, 32),
		jobs:     make(map[string]*Record),
		history:  256,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop rejects new requests, finishes the queued ones and waits. If ctx ends
// first, the running export is cancelled and ctx.Err() returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		close(w.queue)
		w.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for id := range w.queue {
		w.process(id)
	}
}

// Enqueue validates and schedules an export and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Record, error) {
	if !req.Category.Valid() {
		return Record{}, fmt.Errorf("unknown category %q", req.Category)
	}
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return Record{}, err
	}
	if err := ValidateBaseName(req.FileName); err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	record := &Record{
		ID:          uuid.NewString(),
		Category:    req.Category,
		Format:      format,
		FileName:    req.FileName,
		RequestedBy: req.RequestedBy,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return Record{}, ErrWorkerStopped
	}
	select {
	case w.queue <- record.ID:
	default:
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	w.jobs[record.ID] = record
	w.order = append(w.order, record.ID)
	w.pruneLocked()
	queued := record.copy()
	w.mu.Unlock()

	w.auditRecord(ctx, queued, nil)
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

// List returns every record, newest first.
func (w *Worker) List() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Record, 0, len(w.order))
	for _, id := range slices.Backward(w.order) {
		out = append(out, w.jobs[id].copy())
	}
	return out
}

func (w *Worker) process(id string) {
	record, ok := w.transition(id, StatusRunning, "", nil)
	if !ok {
		return
	}
	artifact, err := w.run(record)
	if err != nil {
		w.logger.Warn("export failed", "export_id", id, "category", record.Category, "format", record.Format, "error", err)
		w.transition(id, StatusFailed, err.Error(), nil)
		return
	}
	w.transition(id, StatusSucceeded, "", &artifact)
}

func (w *Worker) run(record Record) (Artifact, error) {
	if w.pipeline == nil {
		return Artifact{}, errors.New("export pipeline not configured")
	}
	if record.Format.Tabular() {
		if w.records == nil {
			return Artifact{}, errors.New("record source not configured")
		}
		recs, err := w.records.Records(w.ctx, record.Category)
		if err != nil {
			return Artifact{}, fmt.Errorf("read %s: %w", record.Category, err)
		}
		return w.pipeline.ExportTable(w.ctx, record.Category, recs, record.FileName)
	}
	region := board.RegionID(record.Category)
	if record.Format == FormatPDF {
		return w.pipeline.ExportDocument(w.ctx, region, record.FileName)
	}
	return w.pipeline.ExportImage(w.ctx, region, record.FileName)
}

func (w *Worker) transition(id string, status Status, message string, artifact *Artifact) (Record, bool) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return Record{}, false
	}
	record.Status = status
	record.Error = message
	record.UpdatedAt = now
	if artifact != nil {
		record.Artifact = artifact
	}
	snapshot := record.copy()
	if record.Terminal() {
		record.CompletedAt = &now
		snapshot.CompletedAt = &now
		w.pruneLocked()
	}
	w.mu.Unlock()

	var meta map[string]any
	switch {
	case message != "":
		meta = map[string]any{"error": message}
	case artifact != nil:
		meta = map[string]any{"key": artifact.Key, "size_bytes": artifact.Size}
	}
	w.auditRecord(w.ctx, snapshot, meta)
	return snapshot, true
}

// pruneLocked forgets the oldest finished records beyond the history limit.
func (w *Worker) pruneLocked() {
	excess := len(w.order) - w.history
	if excess <= 0 {
		return
	}
	kept := w.order[:0]
	for _, id := range w.order {
		if excess > 0 && w.jobs[id].Terminal() {
			delete(w.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	clear(w.order[len(kept):])
	w.order = kept
}

func (w *Worker) auditRecord(ctx context.Context, r Record, meta map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		ExportID:   r.ID,
		Action:     "export",
		Actor:      r.RequestedBy,
		Category:   r.Category,
		Format:     r.Format,
		Status:     r.Status,
		Metadata:   meta,
		OccurredAt: r.UpdatedAt,
	})
}

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// SlogAuditLog writes audit entries to a logger.
type SlogAuditLog struct {
	Logger *slog.Logger
}

// Record logs the entry at info level.
func (l SlogAuditLog) Record(ctx context.Context, e AuditEntry) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "export audit", "export_id", e.ExportID, "actor", e.Actor, "category", e.Category, "format", e.Format, "status", e.Status)
}
