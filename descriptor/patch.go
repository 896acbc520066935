// Package descriptor provides a lightweight reference descriptor for the
// cascade. Production models are normally trained with HOG-like features;
// Patch stands in when such an extractor is not available and is what the
// default extractor registry builds for the "patch" descriptor type.
package descriptor

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/esimov/sdm/utils"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Defaults used when a parameter is left at zero.
const (
	DefaultCells      = 4
	DefaultWindowHalf = 12
)

// Patch describes each point by the mean intensities of a Cells x Cells grid
// laid over the square window centered at the point. Every row is normalised
// to zero mean and unit length, which makes the descriptor invariant to
// brightness and contrast changes.
//
// Patch holds no mutable state and is safe for concurrent use.
type Patch struct {
	Cells      int // grid cells per side
	WindowHalf int // half window size used when the caller does not pass one
}

// NewPatch creates a Patch extractor, replacing zero values with the defaults.
func NewPatch(cells, windowHalf int) *Patch {
	if cells <= 0 {
		cells = DefaultCells
	}
	if windowHalf <= 0 {
		windowHalf = DefaultWindowHalf
	}
	return &Patch{Cells: cells, WindowHalf: windowHalf}
}

// Len returns the descriptor length per point.
func (p *Patch) Len() int {
	return p.Cells * p.Cells
}

// Extract returns a len(points) x Cells² matrix. A windowHalf <= 0 selects
// the extractor's own WindowHalf.
func (p *Patch) Extract(img *image.Gray, points []r2.Point, windowHalf int) (*mat.Dense, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	if len(points) == 0 {
		return nil, errors.New("no points to describe")
	}
	if p.Cells <= 0 {
		return nil, fmt.Errorf("invalid cell count: %d", p.Cells)
	}
	if windowHalf <= 0 {
		windowHalf = p.WindowHalf
	}
	if windowHalf <= 0 {
		return nil, fmt.Errorf("invalid window size: %d", windowHalf)
	}

	out := mat.NewDense(len(points), p.Len(), nil)
	row := make([]float64, p.Len())
	cell := 2 * float64(windowHalf) / float64(p.Cells)

	for i, pt := range points {
		x0 := pt.X - float64(windowHalf)
		y0 := pt.Y - float64(windowHalf)
		for cy := 0; cy < p.Cells; cy++ {
			for cx := 0; cx < p.Cells; cx++ {
				// Sample the cell at its center and at the four quarter points.
				mx := x0 + (float64(cx)+0.5)*cell
				my := y0 + (float64(cy)+0.5)*cell
				q := cell / 4
				row[cy*p.Cells+cx] = (bilinear(img, mx, my) +
					bilinear(img, mx-q, my-q) +
					bilinear(img, mx+q, my-q) +
					bilinear(img, mx-q, my+q) +
					bilinear(img, mx+q, my+q)) / 5
			}
		}
		normalize(row)
		out.SetRow(i, row)
	}
	return out, nil
}

// normalize shifts the values to zero mean and scales them to unit length.
// A flat patch becomes all zeros.
func normalize(v []float64) {
	mean := floats.Sum(v) / float64(len(v))
	floats.AddConst(-mean, v)
	if n := floats.Norm(v, 2); n > 1e-12 {
		floats.Scale(1/n, v)
	} else {
		for i := range v {
			v[i] = 0
		}
	}
}

// bilinear samples the image at a sub pixel position, clamping to the border.
func bilinear(img *image.Gray, x, y float64) float64 {
	b := img.Bounds()
	x = utils.Clamp(x, float64(b.Min.X), float64(b.Max.X-1))
	y = utils.Clamp(y, float64(b.Min.Y), float64(b.Max.Y-1))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, b.Max.X-1), min(y0+1, b.Max.Y-1)
	fx, fy := x-float64(x0), y-float64(y0)

	at := func(x, y int) float64 {
		return float64(img.Pix[img.PixOffset(x, y)])
	}
	top := at(x0, y0)*(1-fx) + at(x1, y0)*fx
	bottom := at(x0, y1)*(1-fx) + at(x1, y1)*fx
	return top*(1-fy) + bottom*fy
}
