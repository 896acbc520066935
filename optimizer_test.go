package sdm

import (
	"context"
	"testing"

	"github.com/esimov/sdm/descriptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const testLandmarks = 13

func boxShape(t *testing.T, m *ShapeModel) *mat.Dense {
	t.Helper()
	shape, err := NewFitter(m).InitFromBox(Box{X: 40, Y: 30, Width: 120, Height: 120})
	require.NoError(t, err)
	return shape
}

func TestOptimizer_NonAdaptiveAppliesBias(t *testing.T) {
	bias := constBias(testLandmarks, 1.5, -2)
	m := newBiasModel(t, testLandmarks, 1, bias)
	shape := boxShape(t, m)

	o := NewOptimizer(m)
	o.Adaptive = false
	got, err := o.Optimize(context.Background(), shape, grayImage(200, 200))
	require.NoError(t, err)

	want := mat.NewDense(2*testLandmarks, 1, nil)
	want.Add(shape, mat.NewDense(2*testLandmarks, 1, bias))
	assert.True(t, mat.EqualApprox(want, got, eps))
}

func TestOptimizer_AdaptiveScalesBiasByFaceSize(t *testing.T) {
	bias := constBias(testLandmarks, 0.01, 0.02)
	m := newBiasModel(t, testLandmarks, 1, bias)
	shape := boxShape(t, m)
	faceSize := FaceSize(ShapePoints(shape), DefaultFaceAnchors)
	require.Greater(t, faceSize, 0.0)

	got, err := NewOptimizer(m).Optimize(context.Background(), shape, grayImage(200, 200))
	require.NoError(t, err)

	update := mat.NewDense(2*testLandmarks, 1, bias)
	update.Scale(faceSize, update)
	want := mat.NewDense(2*testLandmarks, 1, nil)
	want.Add(shape, update)
	assert.True(t, mat.EqualApprox(want, got, eps))
}

func TestOptimizer_DoesNotMutateInput(t *testing.T) {
	m := newBiasModel(t, testLandmarks, 3, constBias(testLandmarks, 1, 1))
	shape := boxShape(t, m)
	before := mat.DenseCopyOf(shape)

	got, err := NewOptimizer(m).Optimize(context.Background(), shape, grayImage(200, 200))
	require.NoError(t, err)
	assert.True(t, mat.Equal(before, shape))
	assert.False(t, mat.Equal(before, got))
}

func TestOptimizer_PassesWindowSizes(t *testing.T) {
	const k = 4
	m := newBiasModel(t, testLandmarks, k, make([]float64, 2*testLandmarks))
	shape := boxShape(t, m)
	exs, err := m.NewExtractors()
	require.NoError(t, err)

	o := NewOptimizer(m)
	o.Extractors = exs
	_, err = o.Optimize(context.Background(), shape, grayImage(200, 200))
	require.NoError(t, err)

	faceSize := FaceSize(ShapePoints(shape), DefaultFaceAnchors)
	for stage, ex := range exs {
		windows := ex.(*recordingExtractor).windows
		require.Len(t, windows, 1)
		assert.Equal(t, WindowHalfSize(faceSize, stage, k, DefaultCellSize), windows[0])
	}

	o.Adaptive = false
	_, err = o.Optimize(context.Background(), shape, grayImage(200, 200))
	require.NoError(t, err)
	for _, ex := range exs {
		assert.Equal(t, 0, ex.(*recordingExtractor).windows[1])
	}
}

func TestOptimizer_WindowDecay(t *testing.T) {
	for _, faceSize := range []float64{0, 7, 40, 93.5, 250} {
		for _, k := range []int{1, 2, 5, 10} {
			prev := -1
			for stage := 0; stage < k; stage++ {
				w := WindowHalfSize(faceSize, stage, k, DefaultCellSize)
				assert.Zero(t, w%DefaultCellSize)
				assert.GreaterOrEqual(t, w, DefaultCellSize)
				if prev >= 0 {
					assert.LessOrEqual(t, w, prev, "face size %v, stage %d of %d", faceSize, stage, k)
				}
				prev = w
			}
		}
	}
}

func TestOptimizer_WindowHalfSize(t *testing.T) {
	// Last stage: the logistic factor is 1/2, a quarter of 96 is 24, half of it 12.
	assert.Equal(t, 12, WindowHalfSize(96, 4, 5, 3))
	// 13 is rounded up to the next multiple of the cell size.
	assert.Equal(t, 15, WindowHalfSize(104, 4, 5, 3))
	assert.Equal(t, 13, WindowHalfSize(104, 4, 5, 1))
	assert.Equal(t, 3, WindowHalfSize(0, 0, 5, 3))
}

func TestOptimizer_ExtractionErrors(t *testing.T) {
	m := newBiasModel(t, testLandmarks, 2, make([]float64, 2*testLandmarks))
	shape := boxShape(t, m)
	img := grayImage(200, 200)

	o := NewOptimizer(m)
	o.Extractors = []DescriptorExtractor{
		&recordingExtractor{perPoint: 2},
		&recordingExtractor{perPoint: 2, err: errBrokenExtractor},
	}
	got, err := o.Optimize(context.Background(), shape, img)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, errBrokenExtractor)
	assert.Nil(t, got)

	o.Extractors = []DescriptorExtractor{
		&recordingExtractor{perPoint: 3},
		&recordingExtractor{perPoint: 2},
	}
	_, err = o.Optimize(context.Background(), shape, img)
	assert.ErrorIs(t, err, ErrExtraction)

	o.Extractors = []DescriptorExtractor{&recordingExtractor{perPoint: 2}}
	_, err = o.Optimize(context.Background(), shape, img)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestOptimizer_InvalidInput(t *testing.T) {
	m := newBiasModel(t, testLandmarks, 1, make([]float64, 2*testLandmarks))
	o := NewOptimizer(m)

	_, err := o.Optimize(context.Background(), mat.NewDense(4, 1, nil), grayImage(10, 10))
	assert.ErrorIs(t, err, ErrInvalidShape)

	small := newBiasModel(t, 5, 1, make([]float64, 10))
	_, err = NewOptimizer(small).Optimize(context.Background(), small.MeanShape(), grayImage(10, 10))
	assert.ErrorIs(t, err, ErrInvalidShape, "face anchors outside of the model")
}

func TestOptimizer_Cancelled(t *testing.T) {
	m := newBiasModel(t, testLandmarks, 3, constBias(testLandmarks, 1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := NewOptimizer(m).Optimize(ctx, boxShape(t, m), grayImage(200, 200))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

func TestOptimizer_PatchDescriptor(t *testing.T) {
	patch := DefaultExtractors
	factory, ok := patch.Lookup(PatchDescriptor)
	require.True(t, ok)

	perPoint := descriptor.DefaultCells * descriptor.DefaultCells
	bias := constBias(testLandmarks, 0.001, 0)
	stage := biasStage(t, testLandmarks, perPoint, bias, factory)
	m, err := NewShapeModel(testMeanShape(testLandmarks), numberedIDs(testLandmarks), []RegressionStage{stage})
	require.NoError(t, err)

	shape := boxShape(t, m)
	got, err := NewOptimizer(m).Optimize(context.Background(), shape, grayImage(200, 200))
	require.NoError(t, err)
	assert.False(t, mat.Equal(shape, got))
}

func BenchmarkOptimizer_Patch(b *testing.B) {
	const n, k = 68, 4
	factory, _ := DefaultExtractors.Lookup(PatchDescriptor)
	perPoint := descriptor.DefaultCells * descriptor.DefaultCells

	stages := make([]RegressionStage, k)
	for i := range stages {
		w := mat.NewDense(n*perPoint+1, 2*n, nil)
		for r := 0; r < n*perPoint+1; r++ {
			for c := 0; c < 2*n; c++ {
				w.Set(r, c, float64((r*31+c*17)%11-5)*1e-4)
			}
		}
		s, err := NewRegressionStage(w, PatchDescriptor, nil, factory)
		if err != nil {
			b.Fatalf("could not build stage: %v", err)
		}
		stages[i] = s
	}
	m, err := NewShapeModel(testMeanShape(n), numberedIDs(n), stages)
	if err != nil {
		b.Fatalf("could not build model: %v", err)
	}

	img := grayImage(640, 480)
	f := NewFitter(m)
	shape, err := f.InitFromBox(Box{X: 200, Y: 120, Width: 240, Height: 240})
	if err != nil {
		b.FailNow()
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := f.Optimizer.Optimize(context.Background(), shape, img); err != nil {
			b.FailNow()
		}
	}
}
