package landmark

import "github.com/lucasb-eyer/go-colorful"

// Glyph is a 3x3 pixel pattern, stored row by row, used to mark a landmark.
type Glyph [9]bool

// Symbol is the glyph and color a landmark is drawn with.
type Symbol struct {
	Glyph Glyph
	Color colorful.Color
}

var (
	unknownSymbol = Symbol{
		Glyph: Glyph{
			true, false, true,
			false, true, false,
			true, false, true,
		},
		Color: colorful.Color{R: 0.35, G: 0.35, B: 0.35},
	}

	// symbols is populated once and never written again.
	symbols = map[string]Symbol{
		"right.eye.pupil.center": {
			Glyph: Glyph{false, true, false, false, true, true, false, false, false},
			Color: colorful.Color{R: 1, G: 0, B: 0},
		},
		"left.eye.pupil.center": {
			Glyph: Glyph{false, true, false, true, true, false, false, false, false},
			Color: colorful.Color{R: 0, G: 0, B: 1},
		},
		"center.nose.tip": {
			Glyph: Glyph{false, false, false, false, true, false, true, false, true},
			Color: colorful.Color{R: 0, G: 1, B: 0},
		},
		"right.lips.corner": {
			Glyph: Glyph{false, false, true, false, true, false, false, false, true},
			Color: colorful.Color{R: 1, G: 1, B: 0},
		},
		"left.lips.corner": {
			Glyph: Glyph{true, false, false, false, true, false, true, false, false},
			Color: colorful.Color{R: 1, G: 0, B: 1},
		},
		"right.eye.corner_outer": {
			Glyph: Glyph{false, true, false, false, true, true, false, true, false},
			Color: colorful.Color{R: 0.48, G: 0, B: 0},
		},
		"left.eye.corner_outer": {
			Glyph: Glyph{false, true, false, true, true, false, false, true, false},
			Color: colorful.Color{R: 0, G: 1, B: 1},
		},
		"center.lips.upper.outer": {
			Glyph: Glyph{false, false, false, true, true, true, false, true, false},
			Color: colorful.Color{R: 0.9, G: 0.75, B: 0.63},
		},
		"right.nose.wing.tip": {
			Glyph: Glyph{true, false, false, true, true, true, false, false, false},
			Color: colorful.Color{R: 0.67, G: 0.27, B: 0.27},
		},
		"left.nose.wing.tip": {
			Glyph: Glyph{false, false, true, true, true, true, false, false, false},
			Color: colorful.Color{R: 0.69, G: 0.78, B: 0.04},
		},
		"right.ear.DONTKNOW": {
			Glyph: Glyph{false, true, true, false, true, false, false, true, true},
			Color: colorful.Color{R: 0.52, G: 0, B: 1},
		},
		"left.ear.DONTKNOW": {
			Glyph: Glyph{true, true, false, false, true, false, true, true, false},
			Color: colorful.Color{R: 0, G: 0.6, B: 0},
		},
	}
)

// SymbolFor returns the drawing symbol of a landmark name.
// Names without a dedicated symbol get a grey cross.
func SymbolFor(name string) Symbol {
	if s, ok := symbols[name]; ok {
		return s
	}
	return unknownSymbol
}
