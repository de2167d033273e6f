package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/image/draw"

	"yuleboard/internal/blob"
	"yuleboard/internal/render"
	"yuleboard/pkg/domain"
)

type solidCapturer struct {
	w, h  int
	calls int
}

func (c *solidCapturer) Capture(_ context.Context, regionID string) (image.Image, error) {
	c.calls++
	if regionID != "tall" {
		return nil, &render.RegionNotFoundError{RegionID: regionID}
	}
	img := image.NewRGBA(image.Rect(0, 0, c.w, c.h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img, nil
}

type failingStore struct {
	blob.Store
}

func (failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func fixedID(id string) Option { return WithIDGenerator(func() string { return id }) }

func readArtifact(t *testing.T, store blob.Store, key string) (blob.Info, []byte) {
	t.Helper()
	info, rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return info, data
}

func TestExportTableOrdersRowsAndWritesHeader(t *testing.T) {
	store := blob.NewMemory()
	p := NewPipeline(nil, store, fixedID("exp-1"))
	records := []domain.Record{
		domain.Decoration{ID: "d1", Name: "Star", Quantity: 5},
		domain.Decoration{ID: "d2", Name: "Bell", Quantity: 1},
	}

	a, err := p.ExportTable(context.Background(), domain.CategoryDecorations, records, "adornos")
	require.NoError(t, err)
	assert.Equal(t, "exp-1/adornos.xlsx", a.Key)
	assert.Equal(t, "adornos.xlsx", a.FileName)
	assert.Equal(t, FormatXLSX, a.Format)
	assert.Equal(t, 2, a.Rows)
	assert.Positive(t, a.Size)
	// input untouched
	assert.Equal(t, []string{"d1", "d2"}, domain.IDs(records))

	info, data := readArtifact(t, store, a.Key)
	assert.Equal(t, "adornos.xlsx", info.Metadata[blob.MetaFilename])
	assert.Equal(t, "decorations", info.Metadata[blob.MetaCategory])
	assert.Equal(t, "xlsx", info.Metadata[blob.MetaFormat])

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"ID", "Decoration", "Quantity"},
		{"d2", "Bell", "1"},
		{"d1", "Star", "5"},
	}, rows)
}

func TestExportTableEmptyIsHeaderOnly(t *testing.T) {
	store := blob.NewMemory()
	p := NewPipeline(nil, store)

	a, err := p.ExportTable(context.Background(), domain.CategoryGifts, nil, "regalos")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(a.Key, "/regalos.xlsx"))

	_, data := readArtifact(t, store, a.Key)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ID", "Gift", "Recipient", "Priority"}}, rows)
}

func TestExportTableFrozenFirst(t *testing.T) {
	store := blob.NewMemory()
	p := NewPipeline(nil, store)
	records := []domain.Record{
		domain.Food{ID: "f1", Name: "Bread", Frozen: false},
		domain.Food{ID: "f2", Name: "Peas", Frozen: true},
	}
	a, err := p.ExportTable(context.Background(), domain.CategoryFood, records, "comida")
	require.NoError(t, err)

	_, data := readArtifact(t, store, a.Key)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "f2", rows[1][0])
	assert.Equal(t, "f1", rows[2][0])
}

func TestExportImageWritesPNG(t *testing.T) {
	store := blob.NewMemory()
	capturer := &solidCapturer{w: 40, h: 30}
	p := NewPipeline(capturer, store, fixedID("exp-2"))

	a, err := p.ExportImage(context.Background(), "tall", "board")
	require.NoError(t, err)
	assert.Equal(t, "exp-2/board.png", a.Key)
	assert.Equal(t, "tall", a.Region)
	assert.Equal(t, "image/png", a.ContentType)

	info, data := readArtifact(t, store, a.Key)
	assert.Equal(t, "image/png", info.ContentType)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
}

func TestExportDocumentPageCountGrowsWithHeight(t *testing.T) {
	cases := []struct {
		name   string
		height int
		pages  int
	}{
		// 400px wide -> 0.5mm per px; one page holds 574px
		{"single", 300, 1},
		{"exact", 574, 1},
		{"two", 575, 2},
		{"four", 2000, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := blob.NewMemory()
			p := NewPipeline(&solidCapturer{w: 400, h: tc.height}, store)
			a, err := p.ExportDocument(context.Background(), "tall", "lista")
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(a.Key, "/lista.pdf"))

			_, data := readArtifact(t, store, a.Key)
			require.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
			assert.Equal(t, tc.pages, bytes.Count(data, []byte("<</Type /Page\n")))
		})
	}
}

func TestExportDocumentFromRenderedRegion(t *testing.T) {
	renderer := render.NewTableRenderer(2)
	renderer.Publish("gifts-table", render.Table{Title: "Gifts", Headers: []string{"Gift", "Priority"}, Rows: [][]string{{"Book", "1"}}})
	store := blob.NewMemory()
	p := NewPipeline(renderer, store)

	a, err := p.ExportDocument(context.Background(), "gifts-table", "regalos")
	require.NoError(t, err)
	assert.Positive(t, a.Size)
}

func TestSnapshotExportMissingRegionStoresNothing(t *testing.T) {
	store := blob.NewMemory()
	p := NewPipeline(render.NewTableRenderer(1), store)
	ctx := context.Background()

	_, err := p.ExportDocument(ctx, "missing-table", "lista")
	require.ErrorIs(t, err, render.ErrRegionNotFound)
	var rnf *render.RegionNotFoundError
	require.ErrorAs(t, err, &rnf)
	assert.Equal(t, "missing-table", rnf.RegionID)

	_, err = p.ExportImage(ctx, "missing-table", "lista")
	require.ErrorIs(t, err, render.ErrRegionNotFound)

	infos, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestInvalidBaseNamesRejectedBeforeCapture(t *testing.T) {
	capturer := &solidCapturer{w: 10, h: 10}
	p := NewPipeline(capturer, blob.NewMemory())
	for _, name := range []string{"", "  ", "../x", "a/b", `a\b`, ".hidden", "bad\x00name", strings.Repeat("a", 129)} {
		_, err := p.ExportImage(context.Background(), "tall", name)
		assert.ErrorIs(t, err, ErrInvalidFileName, "name %q", name)
		_, err = p.ExportTable(context.Background(), domain.CategoryGifts, nil, name)
		assert.ErrorIs(t, err, ErrInvalidFileName, "name %q", name)
	}
	assert.Zero(t, capturer.calls)
}

func TestExportTableUnknownCategory(t *testing.T) {
	p := NewPipeline(nil, blob.NewMemory())
	_, err := p.ExportTable(context.Background(), domain.Category("toys"), nil, "x")
	require.Error(t, err)
}

func TestExportTableRejectsOtherCategories(t *testing.T) {
	store := blob.NewMemory()
	p := NewPipeline(nil, store)
	records := []domain.Record{
		domain.Gift{ID: "g1", Name: "Socks", Priority: 1},
		domain.Food{ID: "f1", Name: "Peas", Frozen: true},
	}
	_, err := p.ExportTable(context.Background(), domain.CategoryGifts, records, "mixed")
	require.ErrorIs(t, err, ErrCategoryMismatch)
	assert.Contains(t, err.Error(), `"f1"`)
	var encErr *EncodeError
	assert.False(t, errors.As(err, &encErr))

	listed, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, listed, "nothing stored")
}

func TestStoreFailureIsReported(t *testing.T) {
	p := NewPipeline(&solidCapturer{w: 10, h: 10}, failingStore{})
	_, err := p.ExportImage(context.Background(), "tall", "board")
	require.ErrorContains(t, err, "disk full")
	var encErr *EncodeError
	assert.False(t, errors.As(err, &encErr))
}

func TestEncodeErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&EncodeError{Format: FormatPDF, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "encode pdf: boom", err.Error())
}

func TestParseFormat(t *testing.T) {
	for _, raw := range []string{"xlsx", "PDF", " png "} {
		f, err := ParseFormat(raw)
		require.NoError(t, err)
		assert.Contains(t, Formats(), f)
	}
	_, err := ParseFormat("csv")
	require.Error(t, err)
	assert.True(t, FormatXLSX.Tabular())
	assert.False(t, FormatPNG.Tabular())
}
