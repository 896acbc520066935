package sdm

import "errors"

// Errors returned by the fitting pipeline. All of them are scoped to a single
// image: callers are expected to report the failure and move on to the next one.
var (
	// ErrFormat is returned when a model file is malformed or dimensionally inconsistent.
	ErrFormat = errors.New("malformed model")

	// ErrInvalidShape is returned when a shape is not a 2N x 1 column vector.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrAlignment is returned when the correspondence geometry is degenerate on both axes.
	ErrAlignment = errors.New("cannot align the model")

	// ErrNotFound is returned for landmark identifiers unknown to the model.
	ErrNotFound = errors.New("landmark not found")

	// ErrExtraction is returned when a cascade stage fails to extract descriptors
	// or the descriptors do not match the regressor dimensions.
	ErrExtraction = errors.New("descriptor extraction failed")

	// ErrNoFace signals that no initialisation (face box or correspondences) exists for an image.
	ErrNoFace = errors.New("no face found")
)
