package sdm

import (
	"fmt"
	"image"
	"os"

	"github.com/esimov/sdm/utils"
	pigo "github.com/esimov/pigo/core"
)

// FaceFinder locates faces with a pigo cascade classifier.
// It only reads the unpacked cascade and is safe for concurrent use.
type FaceFinder struct {
	MinSize      int
	MaxSize      int // 0 uses the larger image dimension
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	// Angle rotates the detection window, in the [0, 1] range of full turns.
	Angle    float64
	MinScore float32

	classifier *pigo.Pigo
}

// cascadeHeader is the size of the fixed part of a cascade file.
const cascadeHeader = 16

// NewFaceFinder unpacks a pigo cascade file.
func NewFaceFinder(cascade []byte) (ff *FaceFinder, err error) {
	if len(cascade) < cascadeHeader {
		return nil, fmt.Errorf("error unpacking the cascade file: %d bytes is too short", len(cascade))
	}
	// The unpacker indexes the buffer without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			ff, err = nil, fmt.Errorf("error unpacking the cascade file: truncated cascade: %v", r)
		}
	}()

	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %v", err)
	}
	return &FaceFinder{
		MinSize:      60,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinScore:     5.0,
		classifier:   classifier,
	}, nil
}

// LoadFaceFinder reads the cascade from path.
func LoadFaceFinder(path string) (*FaceFinder, error) {
	cascade, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFaceFinder(cascade)
}

// Detection is the outcome of a face search. The zero value is NotDetected.
type Detection struct {
	Box   Box
	Score float32
	found bool
}

// NotDetected reports that no face was found.
var NotDetected = Detection{}

// Detected reports a face inside box.
func Detected(box Box, score float32) Detection {
	return Detection{Box: box, Score: score, found: true}
}

// Found reports whether the detection holds a face.
func (d Detection) Found() bool { return d.found }

// Detect returns the best scoring face in img.
func (f *FaceFinder) Detect(img *image.Gray) Detection {
	dets := f.DetectAll(img)
	if len(dets) == 0 {
		return NotDetected
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best
}

// DetectAll returns every face scoring above MinScore.
func (f *FaceFinder) DetectAll(img *image.Gray) []Detection {
	if img == nil || img.Rect.Empty() {
		return nil
	}
	dx, dy := img.Rect.Dx(), img.Rect.Dy()
	maxSize := f.MaxSize
	if maxSize <= 0 {
		maxSize = utils.Max(dx, dy)
	}

	cParams := pigo.CascadeParams{
		MinSize:     f.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: f.ShiftFactor,
		ScaleFactor: f.ScaleFactor,

		ImageParams: pigo.ImageParams{
			Pixels: grayPixels(img),
			Rows:   dy,
			Cols:   dx,
			Dim:    dx,
		},
	}

	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	faces := f.classifier.RunCascade(cParams, f.Angle)

	// Calculate the intersection over union (IoU) of two clusters.
	faces = f.classifier.ClusterDetections(faces, f.IoUThreshold)

	var out []Detection
	for _, face := range faces {
		if face.Q <= f.MinScore {
			continue
		}
		half := float64(face.Scale) / 2
		box := Box{
			X:      float64(img.Rect.Min.X+face.Col) - half,
			Y:      float64(img.Rect.Min.Y+face.Row) - half,
			Width:  float64(face.Scale),
			Height: float64(face.Scale),
		}
		if !box.Rect().Overlaps(img.Rect) {
			continue
		}
		out = append(out, Detected(box, face.Q))
	}
	return out
}

// grayPixels returns the pixels of img as a tightly packed row major slice.
func grayPixels(img *image.Gray) []uint8 {
	dx, dy := img.Rect.Dx(), img.Rect.Dy()
	if img.Stride == dx {
		return img.Pix[:dx*dy]
	}
	pix := make([]uint8, 0, dx*dy)
	for y := 0; y < dy; y++ {
		off := y * img.Stride
		pix = append(pix, img.Pix[off:off+dx]...)
	}
	return pix
}
