package sdm

import (
	"fmt"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// A shape is a 2N x 1 column vector: the N x-coordinates followed by the N
// y-coordinates, in the order of the model's landmark identifiers.

// ShapeFromPoints stacks the points into a shape vector.
func ShapeFromPoints(points []r2.Point) *mat.Dense {
	n := len(points)
	data := make([]float64, 2*n)
	for i, p := range points {
		data[i] = p.X
		data[i+n] = p.Y
	}
	return mat.NewDense(2*n, 1, data)
}

// ShapePoints unstacks a shape vector into points. The shape must be valid.
func ShapePoints(shape mat.Matrix) []r2.Point {
	rows, _ := shape.Dims()
	n := rows / 2
	points := make([]r2.Point, n)
	for i := range points {
		points[i] = r2.Point{X: shape.At(i, 0), Y: shape.At(i+n, 0)}
	}
	return points
}

// checkShape verifies the column vector layout and, when n > 0, the landmark count.
func checkShape(shape *mat.Dense, n int) error {
	if shape == nil || shape.IsEmpty() {
		return fmt.Errorf("%w: empty shape", ErrInvalidShape)
	}
	rows, cols := shape.Dims()
	if cols != 1 {
		return fmt.Errorf("%w: expected a column vector, got %dx%d", ErrInvalidShape, rows, cols)
	}
	if rows%2 != 0 {
		return fmt.Errorf("%w: odd number of coordinates (%d)", ErrInvalidShape, rows)
	}
	if n > 0 && rows != 2*n {
		return fmt.Errorf("%w: expected %d coordinates, got %d", ErrInvalidShape, 2*n, rows)
	}
	return nil
}

// shapeAxes returns views on the x and y halves of a valid shape.
func shapeAxes(shape *mat.Dense) (xs, ys *mat.Dense) {
	rows, _ := shape.Dims()
	n := rows / 2
	return shape.Slice(0, n, 0, 1).(*mat.Dense), shape.Slice(n, rows, 0, 1).(*mat.Dense)
}
