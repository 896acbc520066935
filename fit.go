package sdm

import (
	"context"
	"image"

	"github.com/esimov/sdm/landmark"
	"gonum.org/v1/gonum/mat"
)

// Fitter initialises shapes from the mean shape and refines them.
type Fitter struct {
	Model     *ShapeModel
	Aligner   *Aligner
	Optimizer *Optimizer
}

// NewFitter returns a Fitter with the default aligner and an adaptive optimizer.
func NewFitter(m *ShapeModel) *Fitter {
	return &Fitter{
		Model:     m,
		Aligner:   NewAligner(m),
		Optimizer: NewOptimizer(m),
	}
}

// InitFromBox places the mean shape into box.
func (f *Fitter) InitFromBox(box Box) (*mat.Dense, error) {
	shape := f.Model.MeanShape()
	if err := f.Aligner.AlignToBox(shape, box); err != nil {
		return nil, err
	}
	return shape, nil
}

// InitFromLandmarks aligns the mean shape to the correspondences.
func (f *Fitter) InitFromLandmarks(correspondences *landmark.Collection) (*mat.Dense, error) {
	shape := f.Model.MeanShape()
	if err := f.Aligner.AlignToLandmarks(shape, correspondences); err != nil {
		return nil, err
	}
	return shape, nil
}

// FitFromBox fits the model to the face inside box.
func (f *Fitter) FitFromBox(ctx context.Context, img *image.Gray, box Box) (*mat.Dense, error) {
	shape, err := f.InitFromBox(box)
	if err != nil {
		return nil, err
	}
	return f.Optimizer.Optimize(ctx, shape, img)
}

// FitFromLandmarks fits the model starting from a shape aligned to the
// correspondences. It fails with ErrAlignment on degenerate correspondences
// and ErrNotFound on names the model does not know.
func (f *Fitter) FitFromLandmarks(ctx context.Context, img *image.Gray, correspondences *landmark.Collection) (*mat.Dense, error) {
	shape, err := f.InitFromLandmarks(correspondences)
	if err != nil {
		return nil, err
	}
	return f.Optimizer.Optimize(ctx, shape, img)
}

// FitFromBox fits m to the face inside box with the default settings.
func FitFromBox(ctx context.Context, m *ShapeModel, img *image.Gray, box Box) (*mat.Dense, error) {
	return NewFitter(m).FitFromBox(ctx, img, box)
}

// FitFromLandmarks fits m starting from the correspondences with the default settings.
func FitFromLandmarks(ctx context.Context, m *ShapeModel, img *image.Gray, correspondences *landmark.Collection) (*mat.Dense, error) {
	return NewFitter(m).FitFromLandmarks(ctx, img, correspondences)
}

// ToLandmarks names the points of a fitted shape.
func ToLandmarks(m *ShapeModel, shape *mat.Dense) (*landmark.Collection, error) {
	if shape == nil {
		return nil, ErrInvalidShape
	}
	return m.AsLandmarks(shape)
}
