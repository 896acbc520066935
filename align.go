package sdm

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/esimov/sdm/landmark"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Box is a face region in image coordinates, given by its top-left corner and size.
type Box struct {
	X, Y, Width, Height float64
}

// BoxFromRect converts an image rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{
		X:      float64(r.Min.X),
		Y:      float64(r.Min.Y),
		Width:  float64(r.Dx()),
		Height: float64(r.Dy()),
	}
}

// Rect returns the box as an image rectangle, rounding to whole pixels.
func (b Box) Rect() image.Rectangle {
	x0, y0 := int(math.Round(b.X)), int(math.Round(b.Y))
	return image.Rect(x0, y0, x0+int(math.Round(b.Width)), y0+int(math.Round(b.Height)))
}

// Alias defines a correspondence name the model has no landmark for, placed
// at the midpoint of two landmarks it does have.
type Alias [2]string

// EyeCenterAliases resolve the eye centers delivered by some annotation
// schemes (e.g. PittPatt on PaSC) from the eye corners of a 68 point model.
var EyeCenterAliases = map[string]Alias{
	"le": {"37", "40"},
	"re": {"46", "43"},
}

// Similarity is an isotropic scale followed by a translation.
type Similarity struct {
	Scale  float64
	TX, TY float64
}

// Apply transforms shape in place: x' = x*s + tx, y' = y*s + ty.
func (s Similarity) Apply(shape *mat.Dense) {
	xs, ys := shapeAxes(shape)
	xs.Apply(func(_, _ int, v float64) float64 { return v*s.Scale + s.TX }, xs)
	ys.Apply(func(_, _ int, v float64) float64 { return v*s.Scale + s.TY }, ys)
}

// ScaleEstimate is the outcome of estimating the scale along one axis.
// Degenerate estimates (zero, subnormal, infinite or NaN ratios) occur when
// the correspondence points do not spread along that axis.
type ScaleEstimate struct {
	Value      float64
	Degenerate bool
}

// EstimateScale compares the spread (max - min) of the target coordinates
// with the spread of the model coordinates.
func EstimateScale(model, target []float64) ScaleEstimate {
	if len(model) == 0 || len(model) != len(target) {
		return ScaleEstimate{Value: math.NaN(), Degenerate: true}
	}
	ratio := spread(target) / spread(model)
	return ScaleEstimate{Value: ratio, Degenerate: !isNormal(ratio)}
}

// combineScales merges the per axis estimates into one isotropic scale.
func combineScales(sx, sy ScaleEstimate) (float64, error) {
	switch {
	case sx.Degenerate && sy.Degenerate:
		return 0, fmt.Errorf("%w: x and y scale both not computable", ErrAlignment)
	case sx.Degenerate:
		return sy.Value, nil
	case sy.Degenerate:
		return sx.Value, nil
	default:
		return (sx.Value + sy.Value) / 2, nil
	}
}

// Aligner places a shape into an image before the cascade refines it.
type Aligner struct {
	Model *ShapeModel
	// Aliases maps correspondence names to pairs of model landmarks.
	Aliases map[string]Alias
}

// NewAligner creates an Aligner resolving the eye center aliases.
func NewAligner(m *ShapeModel) *Aligner {
	return &Aligner{Model: m, Aliases: EyeCenterAliases}
}

// AlignToBox maps a shape normalised to [-0.5, 0.5]² into box, in place.
func (a *Aligner) AlignToBox(shape *mat.Dense, box Box) error {
	if err := checkShape(shape, 0); err != nil {
		return err
	}
	xs, ys := shapeAxes(shape)
	xs.Apply(func(_, _ int, v float64) float64 { return (v+0.5)*box.Width + box.X }, xs)
	ys.Apply(func(_, _ int, v float64) float64 { return (v+0.5)*box.Height + box.Y }, ys)
	return nil
}

// AlignToLandmarks scales and translates shape, in place, so that its points
// named in correspondences land on the given positions. Landmarks marked as
// not visible are ignored. The shape is left untouched when the alignment fails.
func (a *Aligner) AlignToLandmarks(shape *mat.Dense, correspondences *landmark.Collection) error {
	sim, err := a.EstimateSimilarity(shape, correspondences)
	if err != nil {
		return err
	}
	sim.Apply(shape)
	return nil
}

// EstimateSimilarity computes the transform AlignToLandmarks applies.
//
// The scale is computed first and the translation afterwards, from the scaled
// model points: the correspondences' centroid is not the centroid the shape
// scales around, so the translation depends on the scale.
func (a *Aligner) EstimateSimilarity(shape *mat.Dense, correspondences *landmark.Collection) (Similarity, error) {
	if err := checkShape(shape, a.Model.NumLandmarks()); err != nil {
		return Similarity{}, err
	}

	var modelX, modelY, targetX, targetY []float64
	for _, lm := range correspondences.Landmarks() {
		if !lm.Visible {
			continue
		}
		p, err := a.resolve(lm.Name, shape)
		if err != nil {
			return Similarity{}, err
		}
		target := lm.Point()
		modelX = append(modelX, p.X)
		modelY = append(modelY, p.Y)
		targetX = append(targetX, target.X)
		targetY = append(targetY, target.Y)
	}

	sx := EstimateScale(modelX, targetX)
	sy := EstimateScale(modelY, targetY)
	s, err := combineScales(sx, sy)
	if err != nil {
		return Similarity{}, err
	}

	sim := Similarity{
		Scale: s,
		TX:    meanResidual(modelX, targetX, s),
		TY:    meanResidual(modelY, targetY, s),
	}
	Logger().Debug("rigid alignment",
		slog.Int("correspondences", len(modelX)),
		slog.Float64("sx", sx.Value),
		slog.Float64("sy", sy.Value),
		slog.Float64("scale", sim.Scale),
		slog.Float64("tx", sim.TX),
		slog.Float64("ty", sim.TY),
	)
	return sim, nil
}

// resolve finds the point a correspondence name refers to in shape.
func (a *Aligner) resolve(name string, shape *mat.Dense) (r2.Point, error) {
	if alias, ok := a.Aliases[name]; ok {
		p1, err := a.Model.LandmarkAsPoint(alias[0], shape)
		if err != nil {
			return r2.Point{}, fmt.Errorf("alias %q: %w", name, err)
		}
		p2, err := a.Model.LandmarkAsPoint(alias[1], shape)
		if err != nil {
			return r2.Point{}, fmt.Errorf("alias %q: %w", name, err)
		}
		return p1.Add(p2).Mul(0.5), nil
	}
	return a.Model.LandmarkAsPoint(name, shape)
}

// meanResidual returns mean(target - s*model).
func meanResidual(model, target []float64, s float64) float64 {
	res := make([]float64, len(target))
	floats.AddScaledTo(res, target, -s, model)
	return floats.Sum(res) / float64(len(res))
}

func spread(v []float64) float64 {
	return floats.Max(v) - floats.Min(v)
}

// isNormal reports whether v is a normal floating point number:
// neither zero, subnormal, infinite nor NaN.
func isNormal(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return math.Abs(v) >= 0x1p-1022
}
