package sdm

import (
	"fmt"
	"image"

	"github.com/esimov/sdm/landmark"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"
)

// Overlay draws fitting results over the source image.
// Colors are given as hex strings (#rrggbb).
type Overlay struct {
	BoxColor     string
	InitialColor string
	FittedColor  string
	LineWidth    float64
	PointRadius  float64
	// GlyphCell is the side of one glyph pixel.
	GlyphCell float64
}

// DefaultOverlay draws the initial shape in red and the fitted one in green.
var DefaultOverlay = Overlay{
	BoxColor:     "#ffffff",
	InitialColor: "#ff0000",
	FittedColor:  "#00ff00",
	LineWidth:    2,
	PointRadius:  2,
	GlyphCell:    2,
}

// Annotation collects what is drawn for one image. Nil fields are skipped.
type Annotation struct {
	Box             *Box
	Correspondences *landmark.Collection
	Initial         *mat.Dense
	Fitted          *mat.Dense
}

// Draw returns a copy of img with the annotation painted over it.
func (o Overlay) Draw(img image.Image, a Annotation) (image.Image, error) {
	boxColor, err := colorful.Hex(o.BoxColor)
	if err != nil {
		return nil, fmt.Errorf("box color: %w", err)
	}
	initColor, err := colorful.Hex(o.InitialColor)
	if err != nil {
		return nil, fmt.Errorf("initial shape color: %w", err)
	}
	fitColor, err := colorful.Hex(o.FittedColor)
	if err != nil {
		return nil, fmt.Errorf("fitted shape color: %w", err)
	}

	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(o.LineWidth)

	if a.Box != nil {
		dc.SetColor(boxColor)
		dc.DrawRectangle(a.Box.X, a.Box.Y, a.Box.Width, a.Box.Height)
		dc.Stroke()
	}
	for _, lm := range a.Correspondences.Landmarks() {
		if !lm.Visible {
			continue
		}
		o.drawSymbol(dc, lm.X(), lm.Y(), landmark.SymbolFor(lm.Name))
	}
	o.drawShape(dc, a.Initial, initColor)
	o.drawShape(dc, a.Fitted, fitColor)

	return dc.Image(), nil
}

func (o Overlay) drawShape(dc *gg.Context, shape *mat.Dense, c colorful.Color) {
	if shape == nil || checkShape(shape, 0) != nil {
		return
	}
	dc.SetColor(c)
	for _, p := range ShapePoints(shape) {
		dc.DrawCircle(p.X, p.Y, o.PointRadius)
		dc.Fill()
	}
}

// drawSymbol paints the 3x3 glyph centred on (x, y).
func (o Overlay) drawSymbol(dc *gg.Context, x, y float64, s landmark.Symbol) {
	cell := o.GlyphCell
	dc.SetColor(s.Color)
	for i, on := range s.Glyph {
		if !on {
			continue
		}
		row, col := float64(i/3-1), float64(i%3-1)
		dc.DrawRectangle(x+col*cell-cell/2, y+row*cell-cell/2, cell, cell)
	}
	dc.Fill()
}
