// Package app assembles the document store, subscription manager, board,
// renderer, artifact store and export worker from a configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"yuleboard/internal/blob"
	"yuleboard/internal/board"
	"yuleboard/internal/config"
	"yuleboard/internal/core"
	"yuleboard/internal/docstore"
	"yuleboard/internal/export"
	"yuleboard/internal/httpapi"
	"yuleboard/internal/observability"
	"yuleboard/internal/render"
	"yuleboard/pkg/domain"
)

// App owns every long-lived component. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Source    docstore.Source
	Loop      *core.Loop
	Manager   *core.Manager
	Renderer  *render.TableRenderer
	Board     *board.Board
	Artifacts blob.Store
	Pipeline  *export.Pipeline
	Worker    *export.Worker

	Prometheus *observability.PrometheusRecorder
	Expvar     *observability.ExpvarRecorder
}

// Option customizes assembly.
type Option func(*options)

type options struct {
	source    docstore.Source
	artifacts blob.Store
}

// WithSource uses src instead of opening the configured store.
func WithSource(src docstore.Source) Option { return func(o *options) { o.source = src } }

// WithArtifacts uses store instead of opening the configured artifact store.
func WithArtifacts(store blob.Store) Option { return func(o *options) { o.artifacts = store } }

// New opens the configured backends and wires the components. The event loop
// is running when New returns; call Start to subscribe and begin exporting.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	a.Source = o.source
	if a.Source == nil {
		dc := cfg.DocstoreConfig()
		dc.OnError = func(collection string, err error) {
			logger.Warn("document store read failed", "collection", collection, "error", err)
		}
		src, err := docstore.Open(ctx, dc)
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		a.Source = src
	}
	a.Artifacts = o.artifacts
	if a.Artifacts == nil {
		store, err := blob.Open(ctx, cfg.BlobConfig())
		if err != nil {
			_ = a.Source.Close()
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		a.Artifacts = store
	}

	a.Prometheus = observability.NewPrometheusRecorder()
	a.Expvar = observability.NewExpvarRecorder("")
	recorder := observability.Tee{a.Prometheus, a.Expvar}

	a.Loop = core.NewLoop()
	go func() {
		if err := a.Loop.Run(context.Background()); err != nil {
			logger.Error("event loop exited", "error", err)
		}
	}()
	manager, err := core.NewManager(a.Source, a.Loop,
		core.WithLogger(logger),
		core.WithRecorder(recorder),
		core.WithCollections(cfg.CollectionMap()),
	)
	if err != nil {
		a.Loop.Stop()
		_ = a.Source.Close()
		return nil, err
	}
	a.Manager = manager
	a.Renderer = render.NewTableRenderer(cfg.Render.Scale)
	a.Board = board.New(manager, a.Renderer, logger)
	a.Pipeline = export.NewPipeline(a.Renderer, a.Artifacts,
		export.WithLogger(logger),
		export.WithRecorder(recorder),
	)
	a.Worker = export.NewWorker(a.Pipeline, a.Board,
		export.WithAudit(export.SlogAuditLog{Logger: logger}),
		export.WithWorkerLogger(logger),
		export.WithQueueSize(cfg.Export.QueueSize),
		export.WithHistoryLimit(cfg.Export.History),
	)
	logger.Info("components ready",
		"store", a.Source.Driver(),
		"artifacts", a.Artifacts.Driver(),
		"render_scale", cfg.Render.Scale,
	)
	return a, nil
}

// Start begins exporting and subscribes every category.
func (a *App) Start(ctx context.Context) error {
	a.Worker.Start()
	return a.Board.Open(ctx)
}

// Handler returns the HTTP API over this app.
func (a *App) Handler() http.Handler {
	return httpapi.New(httpapi.Options{
		Board:       a.Board,
		Exports:     a.Worker,
		Artifacts:   a.Artifacts,
		Metrics:     a.Prometheus.Handler(),
		Logger:      a.Logger,
		ExportRate:  a.Config.HTTP.ExportRate,
		ExportBurst: a.Config.HTTP.ExportBurst,
		URLExpiry:   a.Config.Artifacts.URLExpiry,
	}).Handler()
}

// Close drains the export queue, tears down the subscriptions, stops the
// loop and closes the document store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Worker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop export worker: %w", err))
	}
	if err := a.Board.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close board: %w", err))
	}
	a.Manager.Close()
	a.Loop.Stop()
	select {
	case <-a.Loop.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if err := a.Source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close document store: %w", err))
	}
	return errors.Join(errs...)
}

// WaitSnapshot blocks until the category has applied at least one store
// snapshot and returns its records.
func (a *App) WaitSnapshot(ctx context.Context, c domain.Category) ([]domain.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown category %q", c)
	}
	ready := make(chan []domain.Record, 1)
	cancel, err := a.Board.Follow(ctx, func(up core.Update) {
		if up.Category != c || up.Seq == 0 {
			return
		}
		select {
		case ready <- up.Records:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()
	select {
	case records := <-ready:
		return records, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s snapshot: %w", c, ctx.Err())
	}
}

// ExportOnce waits for the category's first snapshot and writes one artifact.
func (a *App) ExportOnce(ctx context.Context, c domain.Category, format export.Format, base string) (export.Artifact, error) {
	if err := export.ValidateBaseName(base); err != nil {
		return export.Artifact{}, err
	}
	records, err := a.WaitSnapshot(ctx, c)
	if err != nil {
		return export.Artifact{}, err
	}
	switch format {
	case export.FormatXLSX:
		return a.Pipeline.ExportTable(ctx, c, records, base)
	case export.FormatPDF:
		return a.Pipeline.ExportDocument(ctx, board.RegionID(c), base)
	case export.FormatPNG:
		return a.Pipeline.ExportImage(ctx, board.RegionID(c), base)
	default:
		return export.Artifact{}, fmt.Errorf("unsupported format %q", format)
	}
}
