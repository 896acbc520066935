package sdm

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/esimov/sdm/descriptor"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// DescriptorExtractor computes the features a cascade stage regresses on.
//
// Extract returns one row per point (or any matrix whose row major layout is
// point major). A windowHalf <= 0 leaves the support window size to the
// extractor's own configuration.
//
// Implementations holding scratch state must not be shared between
// goroutines; use ShapeModel.NewExtractors to provision one set per worker.
type DescriptorExtractor interface {
	Extract(img *image.Gray, points []r2.Point, windowHalf int) (*mat.Dense, error)
}

// DescriptorParams holds the numeric parameters stored with a stage,
// e.g. the cell size and bin count of a HOG extractor.
type DescriptorParams map[string]float64

// Int returns the parameter as an integer, or def if it is not set.
func (p DescriptorParams) Int(key string, def int) int {
	v, ok := p[key]
	if !ok || math.IsNaN(v) {
		return def
	}
	return int(math.Round(v))
}

// clone copies the parameters so a model never aliases caller owned maps.
func (p DescriptorParams) clone() DescriptorParams {
	out := make(DescriptorParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ExtractorFactory builds an extractor from the parameters stored in a model file.
type ExtractorFactory func(DescriptorParams) (DescriptorExtractor, error)

// ExtractorRegistry maps descriptor type tags to factories. It is immutable;
// With returns an extended copy.
type ExtractorRegistry struct {
	factories map[string]ExtractorFactory
}

// NewExtractorRegistry creates a registry from the given factories.
func NewExtractorRegistry(factories map[string]ExtractorFactory) ExtractorRegistry {
	r := ExtractorRegistry{factories: make(map[string]ExtractorFactory, len(factories))}
	for tag, f := range factories {
		r.factories[tag] = f
	}
	return r
}

// With returns a copy of the registry that also knows tag.
func (r ExtractorRegistry) With(tag string, f ExtractorFactory) ExtractorRegistry {
	out := NewExtractorRegistry(r.factories)
	out.factories[tag] = f
	return out
}

// Lookup returns the factory registered for tag.
func (r ExtractorRegistry) Lookup(tag string) (ExtractorFactory, bool) {
	f, ok := r.factories[tag]
	return f, ok
}

// Types returns the registered tags in sorted order.
func (r ExtractorRegistry) Types() []string {
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// PatchDescriptor is the type tag of descriptor.Patch.
const PatchDescriptor = "patch"

// DefaultExtractors knows the extractors shipped with this module.
var DefaultExtractors = NewExtractorRegistry(map[string]ExtractorFactory{
	PatchDescriptor: newPatchExtractor,
})

func newPatchExtractor(p DescriptorParams) (DescriptorExtractor, error) {
	cells := p.Int("numCells", descriptor.DefaultCells)
	window := p.Int("windowHalf", descriptor.DefaultWindowHalf)
	if cells <= 0 || window <= 0 {
		return nil, fmt.Errorf("patch descriptor: invalid parameters %v", p)
	}
	return descriptor.NewPatch(cells, window), nil
}
