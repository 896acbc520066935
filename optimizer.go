package sdm

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// DefaultCellSize is the granularity window sizes are rounded up to.
// HOG-like extractors need windows made of whole cells.
const DefaultCellSize = 3

// FaceAnchors selects, by landmark index, the two point pairs whose midpoints
// define the face size: the inner eye corners and the mouth corners.
type FaceAnchors struct {
	Eyes  [2]int
	Mouth [2]int
}

// DefaultFaceAnchors match the landmark order of the 20 point models
// (inner eye corners 8 and 9, mouth corners 11 and 12).
var DefaultFaceAnchors = FaceAnchors{
	Eyes:  [2]int{8, 9},
	Mouth: [2]int{11, 12},
}

func (fa FaceAnchors) check(n int) error {
	for _, i := range []int{fa.Eyes[0], fa.Eyes[1], fa.Mouth[0], fa.Mouth[1]} {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: face anchor %d outside of %d landmarks", ErrInvalidShape, i, n)
		}
	}
	return nil
}

// FaceSize returns the distance between the eye midpoint and the mouth midpoint.
func FaceSize(points []r2.Point, fa FaceAnchors) float64 {
	eyes := points[fa.Eyes[0]].Add(points[fa.Eyes[1]]).Mul(0.5)
	mouth := points[fa.Mouth[0]].Add(points[fa.Mouth[1]]).Mul(0.5)
	return eyes.Sub(mouth).Norm()
}

// WindowHalfSize computes the half size of the descriptor support window for
// a stage. The window starts at a quarter of the face size and shrinks along
// a logistic curve as the cascade progresses:
//
//	round(faceSize/4 * 1/(1 + e^(stage+1-numStages)))
//
// The result is rounded up to a multiple of cellSize and is at least one cell.
func WindowHalfSize(faceSize float64, stage, numStages, cellSize int) int {
	windowSize := faceSize / 2
	half := math.Round((windowSize / 2) * (1 / (1 + math.Exp(float64(stage+1-numStages)))))
	if math.IsNaN(half) || half < 0 {
		half = 0
	}
	w := int(half)
	if cellSize <= 1 {
		return max(w, 1)
	}
	if rem := w % cellSize; rem != 0 {
		w += cellSize - rem
	}
	return max(w, cellSize)
}

// Optimizer runs the regression cascade of a model.
//
// An Optimizer is not safe for concurrent use unless its extractors are;
// give every worker its own Extractors from ShapeModel.NewExtractors.
type Optimizer struct {
	Model *ShapeModel
	// Adaptive sizes the support windows and the shape updates after the
	// current face size. Otherwise the extractors use their own window size
	// and the updates are applied as they come out of the regressors.
	Adaptive bool
	Anchors  FaceAnchors
	CellSize int
	// Extractors overrides the model's extractors, one per stage.
	Extractors []DescriptorExtractor
}

// NewOptimizer returns an adaptive Optimizer using the model's extractors.
func NewOptimizer(m *ShapeModel) *Optimizer {
	return &Optimizer{
		Model:    m,
		Adaptive: true,
		Anchors:  DefaultFaceAnchors,
		CellSize: DefaultCellSize,
	}
}

// Optimize refines shape on the grayscale image and returns the result.
// The input shape is not modified. On error no shape is returned.
// The context is checked before every stage.
func (o *Optimizer) Optimize(ctx context.Context, shape *mat.Dense, img *image.Gray) (*mat.Dense, error) {
	m := o.Model
	n, k := m.NumLandmarks(), m.NumCascadeSteps()
	if err := checkShape(shape, n); err != nil {
		return nil, err
	}
	if o.Adaptive {
		if err := o.Anchors.check(n); err != nil {
			return nil, err
		}
	}
	if o.Extractors != nil && len(o.Extractors) != k {
		return nil, fmt.Errorf("%w: %d extractors for %d stages", ErrExtraction, len(o.Extractors), k)
	}

	current := mat.DenseCopyOf(shape)
	for stage := 0; stage < k; stage++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := o.step(ctx, current, img, stage); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// step applies one cascade stage to shape in place.
func (o *Optimizer) step(ctx context.Context, shape *mat.Dense, img *image.Gray, stage int) error {
	var (
		m        = o.Model
		k        = m.NumCascadeSteps()
		points   = ShapePoints(shape)
		faceSize = 1.0
		window   = 0
	)
	if o.Adaptive {
		faceSize = FaceSize(points, o.Anchors)
		window = WindowHalfSize(faceSize, stage, k, o.CellSize)
		Logger().Log(ctx, LevelTrace, "adaptive window",
			slog.Int("stage", stage),
			slog.Float64("faceSize", faceSize),
			slog.Int("windowHalf", window),
		)
	}

	features, err := o.extractor(stage).Extract(img, points, window)
	if err != nil {
		return fmt.Errorf("%w: stage %d: %w", ErrExtraction, stage, err)
	}
	if features == nil {
		return fmt.Errorf("%w: stage %d: extractor returned no features", ErrExtraction, stage)
	}

	regressor := m.stage(stage).regressor
	rows, cols := regressor.Dims()
	d := rows - 1
	fr, fc := features.Dims()
	if fr*fc != d {
		return fmt.Errorf("%w: stage %d: %d features (%dx%d), regressor expects %d",
			ErrExtraction, stage, fr*fc, fr, fc, d)
	}

	delta := mat.NewDense(1, cols, nil)
	if d > 0 {
		// One row of features, point major.
		f := mat.NewDense(1, d, denseData(features))
		delta.Mul(f, regressor.Slice(0, d, 0, cols))
	}
	delta.Add(delta, regressor.Slice(d, rows, 0, cols))
	if o.Adaptive {
		delta.Scale(faceSize, delta)
	}
	shape.Add(shape, delta.T())

	Logger().DebugContext(ctx, "cascade stage done", slog.Int("stage", stage), slog.Int("features", d))
	return nil
}

func (o *Optimizer) extractor(stage int) DescriptorExtractor {
	if o.Extractors != nil {
		return o.Extractors[stage]
	}
	return o.Model.DescriptorExtractor(stage)
}
