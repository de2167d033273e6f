package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cellPadX  = 8
	cellPadY  = 5
	titlePadY = 8
	minWidth  = 160
)

var (
	background = color.White
	headerFill = color.RGBA{R: 0xc6, G: 0x28, B: 0x28, A: 0xff}
	stripeFill = color.RGBA{R: 0xf3, G: 0xf6, B: 0xf3, A: 0xff}
	gridLine   = color.RGBA{R: 0xbd, G: 0xbd, B: 0xbd, A: 0xff}
	titleInk   = color.RGBA{R: 0x1b, G: 0x5e, B: 0x20, A: 0xff}
	headerInk  = color.White
	bodyInk    = color.Black
)

// rasterize draws t at 1x with the 7x13 bitmap face and scales the result.
func rasterize(t Table, scale int) image.Image {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	lineH := (metrics.Ascent + metrics.Descent).Ceil()
	rowH := lineH + 2*cellPadY
	titleH := lineH + 2*titlePadY

	cols := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	measure := func(i int, s string) {
		if w := font.MeasureString(face, s).Ceil() + 2*cellPadX; w > widths[i] {
			widths[i] = w
		}
	}
	for i, h := range t.Headers {
		measure(i, h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			measure(i, cell)
		}
	}
	width := 1
	for _, w := range widths {
		width += w
	}
	if tw := font.MeasureString(face, t.Title).Ceil() + 2*cellPadX; tw > width {
		width = tw
	}
	if width < minWidth {
		width = minWidth
	}
	height := titleH + rowH*(1+len(t.Rows)) + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, img.Bounds(), background)
	text := func(x, y int, s string, ink color.Color) {
		d := font.Drawer{Dst: img, Src: image.NewUniform(ink), Face: face, Dot: fixed.P(x, y)}
		d.DrawString(s)
	}
	text(cellPadX, titlePadY+metrics.Ascent.Ceil(), t.Title, titleInk)

	y := titleH
	drawRow := func(cells []string, fillColor color.Color, ink color.Color) {
		if fillColor != nil {
			fill(img, image.Rect(0, y, width, y+rowH), fillColor)
		}
		x := 0
		for i, w := range widths {
			if i < len(cells) {
				text(x+cellPadX, y+cellPadY+metrics.Ascent.Ceil(), cells[i], ink)
			}
			fill(img, image.Rect(x, y, x+1, y+rowH+1), gridLine)
			x += w
		}
		fill(img, image.Rect(x, y, x+1, y+rowH+1), gridLine)
		fill(img, image.Rect(0, y, x+1, y+1), gridLine)
		y += rowH
	}
	accent := t.Accent
	if accent == nil {
		accent = headerFill
	}
	drawRow(t.Headers, accent, headerInk)
	for i, row := range t.Rows {
		var stripe color.Color
		if i%2 == 1 {
			stripe = stripeFill
		}
		drawRow(row, stripe, bodyInk)
	}
	tableW := 1
	for _, w := range widths {
		tableW += w
	}
	fill(img, image.Rect(0, y, tableW, y+1), gridLine)

	if scale <= 1 {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, width*scale, height*scale))
	draw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}
