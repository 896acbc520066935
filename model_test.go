package sdm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestModel_Accessors(t *testing.T) {
	const n = 4
	bias := constBias(n, 1, 2)
	m := newBiasModel(t, n, 3, bias)

	assert.Equal(t, n, m.NumLandmarks())
	assert.Equal(t, 3, m.NumCascadeSteps())
	assert.Equal(t, []string{"1", "2", "3", "4"}, m.Identifiers())
	assert.Equal(t, "recording", m.DescriptorType(1))
	assert.NotNil(t, m.DescriptorExtractor(2))

	r, c := m.RegressorData(0).Dims()
	assert.Equal(t, n*2+1, r)
	assert.Equal(t, 2*n, c)
	assert.Equal(t, bias[3], m.RegressorData(0).At(r-1, 3))
}

func TestModel_MeanShapeIsACopy(t *testing.T) {
	m := newBiasModel(t, 4, 1, make([]float64, 8))
	mean := m.MeanShape()
	mean.Set(0, 0, 1000)

	assert.NotEqual(t, 1000.0, m.MeanShape().At(0, 0))

	ids := m.Identifiers()
	ids[0] = "changed"
	assert.Equal(t, "1", m.Identifiers()[0])
}

func TestModel_RegressorDataIsACopy(t *testing.T) {
	m := newBiasModel(t, 3, 1, constBias(3, 1, 2))
	r, _ := m.RegressorData(0).Dims()

	w := m.RegressorData(0)
	w.Set(r-1, 0, 1000)
	assert.Equal(t, 1.0, m.RegressorData(0).At(r-1, 0))
}

func TestModel_AsLandmarks(t *testing.T) {
	m := newBiasModel(t, 3, 1, make([]float64, 6))

	lms, err := m.AsLandmarks(nil)
	require.NoError(t, err)
	require.Equal(t, 3, lms.Len())
	for i, p := range ShapePoints(m.MeanShape()) {
		lm := lms.Landmarks()[i]
		assert.Equal(t, numberedIDs(3)[i], lm.Name)
		assert.Equal(t, p.X, lm.X())
		assert.Equal(t, p.Y, lm.Y())
	}

	shape := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	lms, err = ToLandmarks(m, shape)
	require.NoError(t, err)
	third, ok := lms.Get("3")
	require.True(t, ok)
	assert.Equal(t, 3.0, third.X())
	assert.Equal(t, 6.0, third.Y())

	_, err = m.AsLandmarks(mat.NewDense(4, 1, nil))
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = ToLandmarks(m, nil)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestModel_LandmarkAsPoint(t *testing.T) {
	m := newBiasModel(t, 3, 1, make([]float64, 6))
	shape := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})

	p, err := m.LandmarkAsPoint("2", shape)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.X)
	assert.Equal(t, 5.0, p.Y)

	_, err = m.LandmarkAsPoint("nose", shape)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModel_StageOutOfRangePanics(t *testing.T) {
	m := newBiasModel(t, 3, 2, make([]float64, 6))
	assert.Panics(t, func() { m.RegressorData(2) })
	assert.Panics(t, func() { m.DescriptorExtractor(-1) })
	assert.Panics(t, func() { m.DescriptorType(5) })
}

func TestModel_NewExtractorsAreFresh(t *testing.T) {
	m := newBiasModel(t, 3, 2, make([]float64, 6))
	a, err := m.NewExtractors()
	require.NoError(t, err)
	b, err := m.NewExtractors()
	require.NoError(t, err)

	require.Len(t, a, 2)
	for i := range a {
		assert.NotSame(t, a[i], b[i])
		assert.NotSame(t, a[i], m.DescriptorExtractor(i))
	}
}

func TestModel_Validation(t *testing.T) {
	stage := biasStage(t, 2, 1, make([]float64, 4), recordingFactory(1))
	wide := biasStage(t, 3, 1, make([]float64, 6), recordingFactory(1))
	mean := testMeanShape(2)

	tests := []struct {
		name   string
		mean   mat.Matrix
		ids    []string
		stages []RegressionStage
	}{
		{"no identifiers", mean, nil, []RegressionStage{stage}},
		{"no mean", nil, []string{"a", "b"}, []RegressionStage{stage}},
		{"mean length", testMeanShape(3), []string{"a", "b"}, []RegressionStage{stage}},
		{"mean not a column", mat.NewDense(2, 2, nil), []string{"a", "b"}, []RegressionStage{stage}},
		{"empty cascade", mean, []string{"a", "b"}, nil},
		{"duplicate identifier", mean, []string{"a", "a"}, []RegressionStage{stage}},
		{"regressor columns", mean, []string{"a", "b"}, []RegressionStage{stage, wide}},
		{"zero stage", mean, []string{"a", "b"}, []RegressionStage{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShapeModel(tt.mean, tt.ids, tt.stages)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestModel_NewRegressionStageErrors(t *testing.T) {
	w := mat.NewDense(3, 4, nil)

	_, err := NewRegressionStage(nil, "patch", nil, recordingFactory(1))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = NewRegressionStage(w, "hog", nil, nil)
	assert.ErrorIs(t, err, ErrFormat)

	failing := func(DescriptorParams) (DescriptorExtractor, error) { return nil, errBrokenExtractor }
	_, err = NewRegressionStage(w, "broken", nil, failing)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestModel_StageCopiesInputs(t *testing.T) {
	w := mat.NewDense(3, 4, nil)
	params := DescriptorParams{"numCells": 2}
	s, err := NewRegressionStage(w, "recording", params, recordingFactory(1))
	require.NoError(t, err)

	w.Set(0, 0, 9)
	params["numCells"] = 7
	m, err := NewShapeModel(testMeanShape(2), []string{"a", "b"}, []RegressionStage{s})
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.RegressorData(0).At(0, 0))
	assert.Equal(t, 2, m.DescriptorParams(0).Int("numCells", 0))
}
