package sdm

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

var testRegistry = DefaultExtractors.With("recording", recordingFactory(2))

// patchModel builds a small model the default registry can read back.
func patchModel(t *testing.T) *ShapeModel {
	t.Helper()
	const n = 3
	factory, ok := DefaultExtractors.Lookup(PatchDescriptor)
	require.True(t, ok)

	stages := make([]RegressionStage, 2)
	for i := range stages {
		params := DescriptorParams{"numCells": 2, "windowHalf": float64(8 + i)}
		d := n * 4
		w := mat.NewDense(d+1, 2*n, nil)
		for r := 0; r <= d; r++ {
			for c := 0; c < 2*n; c++ {
				// Values without a short decimal representation.
				w.Set(r, c, float64(r-c)/3+1e-7*float64(i))
			}
		}
		s, err := NewRegressionStage(w, PatchDescriptor, params, factory)
		require.NoError(t, err)
		stages[i] = s
	}
	mean := mat.NewDense(2*n, 1, []float64{-0.1 / 3, 0.2, 1.0 / 7, -0.25, 0.123456789012345, 0.3})
	m, err := NewShapeModel(mean, []string{"37", "40", "le"}, stages)
	require.NoError(t, err)
	return m
}

func assertSameModel(t *testing.T, want, got *ShapeModel) {
	t.Helper()
	assert.Equal(t, want.NumLandmarks(), got.NumLandmarks())
	assert.Equal(t, want.Identifiers(), got.Identifiers())
	assert.True(t, mat.Equal(want.MeanShape(), got.MeanShape()))
	require.Equal(t, want.NumCascadeSteps(), got.NumCascadeSteps())
	for i := 0; i < want.NumCascadeSteps(); i++ {
		assert.True(t, mat.Equal(want.RegressorData(i), got.RegressorData(i)), "stage %d", i)
		assert.Equal(t, want.DescriptorType(i), got.DescriptorType(i))
		assert.Equal(t, want.DescriptorParams(i), got.DescriptorParams(i))
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	m := patchModel(t)

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf, "trained on synthetic data"))
	assert.Contains(t, buf.String(), "comment: trained on synthetic data")

	got, err := Decode(&buf, DefaultExtractors)
	require.NoError(t, err)
	assertSameModel(t, m, got)
}

func TestSerialize_SaveLoad(t *testing.T) {
	m := patchModel(t)
	path := filepath.Join(t.TempDir(), "model.yaml")

	require.NoError(t, m.Save(path, ""))
	got, err := Load(path)
	require.NoError(t, err)
	assertSameModel(t, m, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSerialize_CustomRegistry(t *testing.T) {
	m := newBiasModel(t, 2, 1, constBias(2, 0.5, -0.5))

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf, ""))
	data := buf.String()

	_, err := Decode(strings.NewReader(data), DefaultExtractors)
	assert.ErrorIs(t, err, ErrFormat)
	assert.ErrorContains(t, err, "recording")

	got, err := Decode(strings.NewReader(data), testRegistry)
	require.NoError(t, err)
	assertSameModel(t, m, got)
}

func TestSerialize_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*modelFile)
	}{
		{"missing count", func(mf *modelFile) { mf.NumLandmarks = 0 }},
		{"count mismatch", func(mf *modelFile) { mf.NumLandmarks = 3 }},
		{"missing identifiers", func(mf *modelFile) { mf.Landmarks = nil }},
		{"duplicate identifiers", func(mf *modelFile) { mf.Landmarks = []string{"a", "a"} }},
		{"short mean", func(mf *modelFile) { mf.MeanShape = mf.MeanShape[:3] }},
		{"missing cascade", func(mf *modelFile) { mf.Cascade = nil }},
		{"unknown descriptor", func(mf *modelFile) { mf.Cascade[0].DescriptorType = "hog" }},
		{"missing descriptor", func(mf *modelFile) { mf.Cascade[0].DescriptorType = "" }},
		{"bad params", func(mf *modelFile) { mf.Cascade[0].DescriptorParams["numCells"] = -1 }},
		{"missing regressor", func(mf *modelFile) { mf.Cascade[0].Regressor = nil }},
		{"wrong cols", func(mf *modelFile) { mf.Cascade[0].Regressor.Rows, mf.Cascade[0].Regressor.Cols = 10, 2 }},
		{"zero rows", func(mf *modelFile) { mf.Cascade[0].Regressor.Rows = 0 }},
		{"data length", func(mf *modelFile) { mf.Cascade[0].Regressor.Data = mf.Cascade[0].Regressor.Data[1:] }},
		{"overflowing rows", func(mf *modelFile) {
			// 4 * (1<<62 + 1) wraps around to 4.
			mf.Cascade[0].Regressor.Rows = 1<<62 + 1
			mf.Cascade[0].Regressor.Data = []float64{1, 2, 3, 4}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf := validModelFile()
			tt.mutate(&mf)
			data, err := yaml.Marshal(&mf)
			require.NoError(t, err)

			_, err = Decode(bytes.NewReader(data), DefaultExtractors)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	raw := []string{"", "numLandmarks: [1, 2", "numLandmarks: 2\nunknown: 1\n"}
	for _, data := range raw {
		_, err := Decode(strings.NewReader(data), DefaultExtractors)
		assert.ErrorIs(t, err, ErrFormat, "%q", data)
	}
}

func TestSerialize_ValidFixtureDecodes(t *testing.T) {
	mf := validModelFile()
	data, err := yaml.Marshal(&mf)
	require.NoError(t, err)

	m, err := Decode(bytes.NewReader(data), DefaultExtractors)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Identifiers())
	assert.Equal(t, 0.5, m.RegressorData(0).At(2, 3))
}

// validModelFile describes a two landmark patch model with one stage.
func validModelFile() modelFile {
	return modelFile{
		NumLandmarks: 2,
		Landmarks:    []string{"a", "b"},
		MeanShape:    []float64{0, 1, 2, 3},
		Cascade: []stageFile{{
			DescriptorType:   PatchDescriptor,
			DescriptorParams: DescriptorParams{"numCells": 1, "windowHalf": 4},
			Regressor: &matrixFile{
				Rows: 3,
				Cols: 4,
				Data: []float64{
					1, 2, 3, 4,
					5, 6, 7, 8,
					0.5, 0.5, 0.5, 0.5,
				},
			},
		}},
	}
}
