package sdm

import (
	"fmt"

	"github.com/esimov/sdm/landmark"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// RegressionStage is one step of the cascade: a descriptor extractor and the
// linear regressor mapping its features to a shape update.
type RegressionStage struct {
	regressor      *mat.Dense // (D+1) x 2N, last row is the bias
	descriptorType string
	params         DescriptorParams
	factory        ExtractorFactory
	extractor      DescriptorExtractor
}

// NewRegressionStage builds a stage and instantiates its extractor through factory.
// The regressor is copied.
func NewRegressionStage(regressor mat.Matrix, descriptorType string, params DescriptorParams, factory ExtractorFactory) (RegressionStage, error) {
	if regressor == nil {
		return RegressionStage{}, fmt.Errorf("%w: missing regressor", ErrFormat)
	}
	if factory == nil {
		return RegressionStage{}, fmt.Errorf("%w: no extractor for descriptor type %q", ErrFormat, descriptorType)
	}
	params = params.clone()
	ex, err := factory(params)
	if err != nil {
		return RegressionStage{}, fmt.Errorf("%w: descriptor %q: %v", ErrFormat, descriptorType, err)
	}
	return RegressionStage{
		regressor:      mat.DenseCopyOf(regressor),
		descriptorType: descriptorType,
		params:         params,
		factory:        factory,
		extractor:      ex,
	}, nil
}

// ShapeModel is a trained supervised descent landmark model. It is immutable
// once created and may be shared by any number of concurrent fittings.
type ShapeModel struct {
	meanShape   *mat.Dense
	identifiers []string
	index       map[string]int
	stages      []RegressionStage
}

// NewShapeModel validates the parts of a model and assembles it.
// meanShape must be a 2N x 1 vector with N = len(identifiers) and every
// regressor must have 2N columns.
func NewShapeModel(meanShape mat.Matrix, identifiers []string, stages []RegressionStage) (*ShapeModel, error) {
	n := len(identifiers)
	if n == 0 {
		return nil, fmt.Errorf("%w: no landmark identifiers", ErrFormat)
	}
	if meanShape == nil {
		return nil, fmt.Errorf("%w: missing mean shape", ErrFormat)
	}
	if r, c := meanShape.Dims(); r != 2*n || c != 1 {
		return nil, fmt.Errorf("%w: mean shape is %dx%d, expected %dx1", ErrFormat, r, c, 2*n)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: empty cascade", ErrFormat)
	}

	index := make(map[string]int, n)
	for i, id := range identifiers {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate landmark identifier %q", ErrFormat, id)
		}
		index[id] = i
	}
	for i, s := range stages {
		if s.regressor == nil || s.extractor == nil {
			return nil, fmt.Errorf("%w: stage %d is not initialised", ErrFormat, i)
		}
		r, c := s.regressor.Dims()
		if c != 2*n || r < 1 {
			return nil, fmt.Errorf("%w: stage %d regressor is %dx%d, expected (D+1)x%d", ErrFormat, i, r, c, 2*n)
		}
	}

	return &ShapeModel{
		meanShape:   mat.DenseCopyOf(meanShape),
		identifiers: append([]string(nil), identifiers...),
		index:       index,
		stages:      append([]RegressionStage(nil), stages...),
	}, nil
}

// NumLandmarks returns the number of landmarks N.
func (m *ShapeModel) NumLandmarks() int {
	return len(m.identifiers)
}

// NumCascadeSteps returns the number of regression stages K.
func (m *ShapeModel) NumCascadeSteps() int {
	return len(m.stages)
}

// Identifiers returns a copy of the ordered landmark identifiers.
func (m *ShapeModel) Identifiers() []string {
	return append([]string(nil), m.identifiers...)
}

// MeanShape returns a copy of the mean shape.
func (m *ShapeModel) MeanShape() *mat.Dense {
	return mat.DenseCopyOf(m.meanShape)
}

// RegressorData returns a copy of the regressor of a stage.
func (m *ShapeModel) RegressorData(stage int) *mat.Dense {
	return mat.DenseCopyOf(m.stage(stage).regressor)
}

// DescriptorExtractor returns the extractor instance owned by a stage.
func (m *ShapeModel) DescriptorExtractor(stage int) DescriptorExtractor {
	return m.stage(stage).extractor
}

// DescriptorType returns the descriptor type tag of a stage.
func (m *ShapeModel) DescriptorType(stage int) string {
	return m.stage(stage).descriptorType
}

// DescriptorParams returns a copy of the descriptor parameters of a stage.
func (m *ShapeModel) DescriptorParams(stage int) DescriptorParams {
	return m.stage(stage).params.clone()
}

// NewExtractors creates a fresh extractor for every stage, for callers that
// fit images concurrently with extractors that are not reentrant.
func (m *ShapeModel) NewExtractors() ([]DescriptorExtractor, error) {
	out := make([]DescriptorExtractor, len(m.stages))
	for i, s := range m.stages {
		ex, err := s.factory(s.params.clone())
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out[i] = ex
	}
	return out, nil
}

// AsLandmarks names the points of shape after the model identifiers.
// A nil shape stands for the mean shape.
func (m *ShapeModel) AsLandmarks(shape *mat.Dense) (*landmark.Collection, error) {
	if shape == nil {
		shape = m.meanShape
	}
	if err := checkShape(shape, m.NumLandmarks()); err != nil {
		return nil, err
	}
	c := landmark.NewCollection()
	for i, p := range ShapePoints(shape) {
		c.Insert(landmark.New(m.identifiers[i], p.X, p.Y))
	}
	return c, nil
}

// LandmarkAsPoint returns the position of the named landmark in shape.
// A nil shape stands for the mean shape.
func (m *ShapeModel) LandmarkAsPoint(id string, shape *mat.Dense) (r2.Point, error) {
	if shape == nil {
		shape = m.meanShape
	}
	i, ok := m.index[id]
	if !ok {
		return r2.Point{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err := checkShape(shape, m.NumLandmarks()); err != nil {
		return r2.Point{}, err
	}
	return r2.Point{X: shape.At(i, 0), Y: shape.At(i+m.NumLandmarks(), 0)}, nil
}

// stage panics on an out of range index: asking for a stage the model does
// not have is a programming error.
func (m *ShapeModel) stage(i int) *RegressionStage {
	if i < 0 || i >= len(m.stages) {
		panic(fmt.Sprintf("sdm: cascade stage %d out of range [0, %d)", i, len(m.stages)))
	}
	return &m.stages[i]
}
