// Package landmark holds named facial landmarks and the file formats used to
// exchange them: face boxes, named point lists, the MUCT csv ground truth and
// the plain text sink written next to every processed image.
package landmark

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Landmark is a named point. Z is carried along but unused by the fitter.
// Width and Height are only set for face box landmarks.
type Landmark struct {
	Name     string
	Position r3.Vector
	Width    float64
	Height   float64
	Visible  bool
}

// New creates a visible landmark at (x, y).
func New(name string, x, y float64) Landmark {
	return Landmark{
		Name:     name,
		Position: r3.Vector{X: x, Y: y},
		Visible:  true,
	}
}

// NewRect creates a face box landmark with its top-left corner at (x, y).
func NewRect(name string, x, y, w, h float64) Landmark {
	lm := New(name, x, y)
	lm.Width, lm.Height = w, h
	return lm
}

// X returns the x coordinate.
func (lm Landmark) X() float64 { return lm.Position.X }

// Y returns the y coordinate.
func (lm Landmark) Y() float64 { return lm.Position.Y }

// Point returns the 2D position.
func (lm Landmark) Point() r2.Point {
	return r2.Point{X: lm.Position.X, Y: lm.Position.Y}
}

// Collection is a set of landmarks keyed by their unique name.
// Iteration order is the insertion order.
type Collection struct {
	names []string
	items map[string]Landmark
}

// NewCollection builds a collection from the given landmarks.
// A later landmark replaces an earlier one with the same name.
func NewCollection(lms ...Landmark) *Collection {
	c := &Collection{items: make(map[string]Landmark, len(lms))}
	for _, lm := range lms {
		c.Insert(lm)
	}
	return c
}

// Insert adds or replaces a landmark.
func (c *Collection) Insert(lm Landmark) {
	if c.items == nil {
		c.items = make(map[string]Landmark)
	}
	if _, ok := c.items[lm.Name]; !ok {
		c.names = append(c.names, lm.Name)
	}
	c.items[lm.Name] = lm
}

// Get returns the landmark with the given name.
func (c *Collection) Get(name string) (Landmark, bool) {
	if c == nil {
		return Landmark{}, false
	}
	lm, ok := c.items[name]
	return lm, ok
}

// Len returns the number of landmarks.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// IsEmpty reports whether the collection holds no landmark.
func (c *Collection) IsEmpty() bool { return c.Len() == 0 }

// Landmarks returns the landmarks in insertion order.
func (c *Collection) Landmarks() []Landmark {
	if c == nil {
		return nil
	}
	out := make([]Landmark, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.items[name])
	}
	return out
}

// First returns the first inserted landmark.
func (c *Collection) First() (Landmark, bool) {
	if c.Len() == 0 {
		return Landmark{}, false
	}
	return c.items[c.names[0]], true
}
