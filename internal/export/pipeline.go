// Package export turns category collections and rendered regions into
// downloadable artifacts: xlsx tables, pdf documents and png images.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"golang.org/x/image/draw"

	"yuleboard/internal/blob"
	"yuleboard/internal/core"
	"yuleboard/internal/observability"
	"yuleboard/internal/render"
	"yuleboard/pkg/domain"
)

// Format is an artifact encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
	FormatPNG  Format = "png"
)

// Formats lists every supported format.
func Formats() []Format { return []Format{FormatXLSX, FormatPDF, FormatPNG} }

// ParseFormat validates a format name.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FormatXLSX, FormatPDF, FormatPNG:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", raw)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	case FormatPNG:
		return "image/png"
	}
	return "application/octet-stream"
}

// Tabular reports whether the format is built from records rather than from
// a captured region.
func (f Format) Tabular() bool { return f == FormatXLSX }

// SheetName is the single worksheet of a table export.
const SheetName = "Data"

// PDF page geometry in millimetres.
const (
	pageHeightMM = 297.0
	imageXMM     = 5.0
	imageYMM     = 5.0
	imageWidthMM = 200.0
)

// ErrInvalidFileName is returned for empty or unsafe base names.
var ErrInvalidFileName = errors.New("invalid file name")

// ErrCategoryMismatch is returned when a table export is given a record of
// another category.
var ErrCategoryMismatch = errors.New("record category mismatch")

// EncodeError reports a failure while encoding an artifact. Nothing is stored
// when it is returned.
type EncodeError struct {
	Format Format
	Err    error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode %s: %v", e.Format, e.Err) }

func (e *EncodeError) Unwrap() error { return e.Err }

// Artifact describes a stored export.
type Artifact struct {
	Key         string          `json:"key"`
	FileName    string          `json:"file_name"`
	Format      Format          `json:"format"`
	ContentType string          `json:"content_type"`
	Size        int64           `json:"size_bytes"`
	Category    domain.Category `json:"category,omitempty"`
	Region      string          `json:"region,omitempty"`
	Rows        int             `json:"rows,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Pipeline encodes and stores artifacts. It never touches subscription
// state; callers hand it records or a region id.
type Pipeline struct {
	capturer render.Capturer
	store    blob.Store
	logger   *slog.Logger
	recorder observability.Recorder
	newID    func() string
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithIDGenerator replaces the export id source (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewPipeline returns a pipeline capturing from capturer and writing to store.
func NewPipeline(capturer render.Capturer, store blob.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		capturer: capturer,
		store:    store,
		logger:   slog.Default(),
		recorder: observability.Nop{},
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExportTable writes records as <base>.xlsx. Records are ordered by the
// category's sort policy; an empty slice yields a header-only sheet.
func (p *Pipeline) ExportTable(ctx context.Context, category domain.Category, records []domain.Record, base string) (a Artifact, err error) {
	start := time.Now()
	defer func() { p.observe(ctx, FormatXLSX, err, start) }()

	if !category.Valid() {
		return Artifact{}, fmt.Errorf("unknown category %q", category)
	}
	if err := ValidateBaseName(base); err != nil {
		return Artifact{}, err
	}
	for _, r := range records {
		if r.Category() != category {
			return Artifact{}, fmt.Errorf("%w: %s record %q in %s export", ErrCategoryMismatch, r.Category(), r.RecordID(), category)
		}
	}
	ordered := core.Sort(category, records)
	payload, err := encodeWorkbook(category, ordered)
	if err != nil {
		return Artifact{}, &EncodeError{Format: FormatXLSX, Err: err}
	}
	a = Artifact{Category: category, Rows: len(ordered)}
	return p.put(ctx, a, FormatXLSX, base, payload)
}

// ExportDocument captures regionID and writes it as <base>.pdf on A4 pages.
// Regions taller than one page continue on the following pages.
func (p *Pipeline) ExportDocument(ctx context.Context, regionID, base string) (a Artifact, err error) {
	start := time.Now()
	defer func() { p.observe(ctx, FormatPDF, err, start) }()
	return p.exportSnapshot(ctx, FormatPDF, regionID, base, func(img image.Image) ([]byte, error) {
		return encodeDocument(img, base)
	})
}

// ExportImage captures regionID and writes it as <base>.png.
func (p *Pipeline) ExportImage(ctx context.Context, regionID, base string) (a Artifact, err error) {
	start := time.Now()
	defer func() { p.observe(ctx, FormatPNG, err, start) }()
	return p.exportSnapshot(ctx, FormatPNG, regionID, base, encodeImage)
}

func (p *Pipeline) exportSnapshot(ctx context.Context, format Format, regionID, base string, encode func(image.Image) ([]byte, error)) (Artifact, error) {
	if err := ValidateBaseName(base); err != nil {
		return Artifact{}, err
	}
	img, err := p.capture(ctx, regionID)
	if err != nil {
		return Artifact{}, err
	}
	payload, err := encode(img)
	if err != nil {
		return Artifact{}, &EncodeError{Format: format, Err: err}
	}
	return p.put(ctx, Artifact{Region: regionID}, format, base, payload)
}

// capture is the single raster source of every snapshot export.
func (p *Pipeline) capture(ctx context.Context, regionID string) (image.Image, error) {
	if p.capturer == nil {
		return nil, &render.RegionNotFoundError{RegionID: regionID}
	}
	img, err := p.capturer.Capture(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("capture %s: empty raster", regionID)
	}
	return img, nil
}

func (p *Pipeline) put(ctx context.Context, a Artifact, format Format, base string, payload []byte) (Artifact, error) {
	if p.store == nil {
		return Artifact{}, errors.New("artifact store not configured")
	}
	a.Format = format
	a.FileName = base + "." + string(format)
	a.Key = p.newID() + "/" + a.FileName
	a.ContentType = format.ContentType()
	meta := map[string]string{
		blob.MetaFilename: a.FileName,
		blob.MetaFormat:   string(format),
	}
	if a.Category != "" {
		meta[blob.MetaCategory] = string(a.Category)
	}
	info, err := p.store.Put(ctx, a.Key, bytes.NewReader(payload), blob.PutOptions{ContentType: a.ContentType, Metadata: meta})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", a.Key, err)
	}
	a.Size = info.Size
	if a.Size == 0 {
		a.Size = int64(len(payload))
	}
	a.CreatedAt = info.LastModified
	if a.CreatedAt.IsZero() {
		a.CreatedAt = p.now()
	}
	p.logger.Info("artifact stored", "key", a.Key, "format", format, "size", humanize.Bytes(uint64(a.Size)))
	return a, nil
}

func (p *Pipeline) observe(ctx context.Context, format Format, err error, start time.Time) {
	p.recorder.Observe(ctx, "export."+string(format), err == nil, time.Since(start))
	if err != nil {
		p.logger.Warn("export failed", "format", format, "error", err)
	}
}

// ValidateBaseName rejects names that are empty, too long, or that could
// escape the artifact's key prefix.
func ValidateBaseName(base string) error {
	switch {
	case strings.TrimSpace(base) == "":
		return fmt.Errorf("%w: empty", ErrInvalidFileName)
	case len(base) > 128:
		return fmt.Errorf("%w: longer than 128 bytes", ErrInvalidFileName)
	case strings.ContainsAny(base, `/\`), base == ".", base == "..", strings.HasPrefix(base, "."):
		return fmt.Errorf("%w: %q", ErrInvalidFileName, base)
	}
	for _, r := range base {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character in %q", ErrInvalidFileName, base)
		}
	}
	return nil
}

func encodeWorkbook(category domain.Category, records []domain.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, err
	}
	header := make([]any, 0, len(category.Labels()))
	for _, label := range category.Labels() {
		header = append(header, label)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := r.Values()
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeDocument places the raster at (5,5) with a width of 200mm and a
// proportional height, slicing it into strips that fit the page.
func encodeDocument(img image.Image, title string) ([]byte, error) {
	b := img.Bounds()
	mmPerPx := imageWidthMM / float64(b.Dx())
	stripPx := max(int((pageHeightMM-2*imageYMM)/mmPerPx), 1)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("yuleboard", false)
	pdf.SetAutoPageBreak(false, 0)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	for i, y := 0, b.Min.Y; y < b.Max.Y; i, y = i+1, y+stripPx {
		h := min(stripPx, b.Max.Y-y)
		strip := image.NewRGBA(image.Rect(0, 0, b.Dx(), h))
		draw.Draw(strip, strip.Bounds(), img, image.Pt(b.Min.X, y), draw.Src)
		encoded, err := encodeImage(strip)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("strip-%d", i)
		pdf.AddPage()
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(encoded))
		pdf.ImageOptions(name, imageXMM, imageYMM, imageWidthMM, float64(h)*mmPerPx, false, opts, 0, "")
		if pdf.Err() {
			return nil, pdf.Error()
		}
	}
	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
