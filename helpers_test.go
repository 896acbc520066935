package sdm

import (
	"errors"
	"image"
	"strconv"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// recordingExtractor returns a constant features matrix and remembers the
// windows it was asked for.
type recordingExtractor struct {
	perPoint int
	value    float64
	err      error
	windows  []int
}

func (e *recordingExtractor) Extract(_ *image.Gray, points []r2.Point, windowHalf int) (*mat.Dense, error) {
	e.windows = append(e.windows, windowHalf)
	if e.err != nil {
		return nil, e.err
	}
	f := mat.NewDense(len(points), e.perPoint, nil)
	for i := 0; i < len(points); i++ {
		for j := 0; j < e.perPoint; j++ {
			f.Set(i, j, e.value)
		}
	}
	return f, nil
}

func recordingFactory(perPoint int) ExtractorFactory {
	return func(DescriptorParams) (DescriptorExtractor, error) {
		return &recordingExtractor{perPoint: perPoint, value: 1}, nil
	}
}

var errBrokenExtractor = errors.New("broken extractor")

// testMeanShape spreads n points over the [-0.4, 0.4] square.
func testMeanShape(n int) *mat.Dense {
	points := make([]r2.Point, n)
	for i := range points {
		fx := float64(i) / float64(n-1)
		fy := float64((i*7)%n) / float64(n-1)
		points[i] = r2.Point{X: -0.4 + 0.8*fx, Y: -0.4 + 0.8*fy}
	}
	return ShapeFromPoints(points)
}

// numberedIDs names the landmarks "1" to "n", as in the 68 point annotations.
func numberedIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

// biasStage builds a stage whose feature weights are all zero: the update is
// exactly the bias row.
func biasStage(t testing.TB, n, perPoint int, bias []float64, factory ExtractorFactory) RegressionStage {
	t.Helper()
	d := n * perPoint
	w := mat.NewDense(d+1, 2*n, nil)
	w.SetRow(d, bias)
	s, err := NewRegressionStage(w, "recording", nil, factory)
	require.NoError(t, err)
	return s
}

// newBiasModel returns a model with k stages all shifting the shape by bias.
func newBiasModel(t testing.TB, n, k int, bias []float64) *ShapeModel {
	t.Helper()
	stages := make([]RegressionStage, k)
	for i := range stages {
		stages[i] = biasStage(t, n, 2, bias, recordingFactory(2))
	}
	m, err := NewShapeModel(testMeanShape(n), numberedIDs(n), stages)
	require.NoError(t, err)
	return m
}

func constBias(n int, dx, dy float64) []float64 {
	b := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		b[i] = dx
		b[i+n] = dy
	}
	return b
}

func grayImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8((x*3 + y*5) % 256)
		}
	}
	return img
}
