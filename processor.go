package sdm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/esimov/sdm/landmark"
	"gonum.org/v1/gonum/mat"
)

// Initialization is where the fitting of one image starts from: a face box,
// a set of named correspondences, or neither.
type Initialization struct {
	Box             *Box
	Correspondences *landmark.Collection
}

// IsZero reports whether the initialization holds nothing to start from.
func (i Initialization) IsZero() bool {
	return i.Box == nil && i.Correspondences.IsEmpty()
}

// Initializer provides the initialization of an image, identified by its path.
// Images without a face are reported with ErrNoFace.
type Initializer interface {
	Initialize(path string, img *image.Gray) (Initialization, error)
}

// DetectorInit initialises from the best face found by a FaceFinder.
type DetectorInit struct {
	Finder *FaceFinder
}

// Initialize implements Initializer.
func (d DetectorInit) Initialize(path string, img *image.Gray) (Initialization, error) {
	det := d.Finder.Detect(img)
	if !det.Found() {
		return Initialization{}, fmt.Errorf("%w: %s", ErrNoFace, filepath.Base(path))
	}
	box := det.Box
	return Initialization{Box: &box}, nil
}

// BoxFileInit reads one face box file per image from Dir (next to the
// image when empty), named after the image with the Ext extension.
type BoxFileInit struct {
	Dir string
	Ext string
}

// Initialize implements Initializer.
func (b BoxFileInit) Initialize(path string, _ *image.Gray) (Initialization, error) {
	c, err := landmark.ReadRectFile(landmark.FileFor(path, b.Dir, b.Ext))
	if err != nil {
		return Initialization{}, missingAsNoFace(err)
	}
	return boxInit(c, path)
}

// LandmarkFileInit reads one named points file per image. A file holding
// only a face box initialises from the box.
type LandmarkFileInit struct {
	Dir string
	Ext string
}

// Initialize implements Initializer.
func (l LandmarkFileInit) Initialize(path string, _ *image.Gray) (Initialization, error) {
	c, err := landmark.ReadPointsFile(landmark.FileFor(path, l.Dir, l.Ext))
	if err != nil {
		return Initialization{}, missingAsNoFace(err)
	}
	return pointsInit(c, path)
}

// CollectionInit looks the correspondences up by image base name without
// extension, as read by landmark.ReadMuctFile.
type CollectionInit map[string]*landmark.Collection

// Initialize implements Initializer.
func (c CollectionInit) Initialize(path string, _ *image.Gray) (Initialization, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return pointsInit(c[name], path)
}

func boxInit(c *landmark.Collection, path string) (Initialization, error) {
	lm, ok := c.First()
	if !ok || lm.Width <= 0 || lm.Height <= 0 {
		return Initialization{}, fmt.Errorf("%w: no face box for %s", ErrNoFace, filepath.Base(path))
	}
	return Initialization{Box: &Box{X: lm.X(), Y: lm.Y(), Width: lm.Width, Height: lm.Height}}, nil
}

func pointsInit(c *landmark.Collection, path string) (Initialization, error) {
	if c.Len() == 1 {
		if lm, _ := c.First(); lm.Width > 0 && lm.Height > 0 {
			return boxInit(c, path)
		}
	}
	for _, lm := range c.Landmarks() {
		if lm.Visible {
			return Initialization{Correspondences: c}, nil
		}
	}
	return Initialization{}, fmt.Errorf("%w: no landmarks for %s", ErrNoFace, filepath.Base(path))
}

func missingAsNoFace(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNoFace, err)
	}
	return err
}

// Result is the outcome of fitting one image.
type Result struct {
	Init      Initialization
	Initial   *mat.Dense
	Fitted    *mat.Dense
	Landmarks *landmark.Collection
}

// Processor runs the whole pipeline on single images: initialise, fit,
// draw the overlay and encode.
type Processor struct {
	Fitter *Fitter
	Init   Initializer
	// Overlay is drawn over the output image. Without it the output image
	// is the decoded input.
	Overlay *Overlay
}

// NewProcessor creates a Processor with the default fitter.
func NewProcessor(m *ShapeModel, in Initializer) *Processor {
	return &Processor{Fitter: NewFitter(m), Init: in}
}

// Clone returns a Processor with its own set of descriptor extractors,
// for use by a separate worker.
func (p *Processor) Clone() (*Processor, error) {
	exs, err := p.Fitter.Model.NewExtractors()
	if err != nil {
		return nil, err
	}
	opt := *p.Fitter.Optimizer
	opt.Extractors = exs
	fitter := *p.Fitter
	fitter.Optimizer = &opt

	clone := *p
	clone.Fitter = &fitter
	return &clone, nil
}

// Fit initialises and fits the grayscale image found at path.
func (p *Processor) Fit(ctx context.Context, path string, gray *image.Gray) (Result, error) {
	start, err := p.Init.Initialize(path, gray)
	if err != nil {
		return Result{}, err
	}
	if start.IsZero() {
		return Result{}, fmt.Errorf("%w: %s", ErrNoFace, filepath.Base(path))
	}

	res := Result{Init: start}
	if start.Box != nil {
		res.Initial, err = p.Fitter.InitFromBox(*start.Box)
	} else {
		res.Initial, err = p.Fitter.InitFromLandmarks(start.Correspondences)
	}
	if err != nil {
		return Result{}, err
	}

	res.Fitted, err = p.Fitter.Optimizer.Optimize(ctx, res.Initial, gray)
	if err != nil {
		return Result{}, err
	}
	res.Landmarks, err = ToLandmarks(p.Fitter.Model, res.Fitted)
	if err != nil {
		return Result{}, err
	}

	Logger().InfoContext(ctx, "image fitted",
		slog.String("image", path),
		slog.Bool("fromBox", start.Box != nil),
		slog.Int("landmarks", res.Landmarks.Len()),
	)
	return res, nil
}

// Process decodes the image read from r, fits it and, when w is not nil,
// encodes the annotated image into w. The path names the image for the
// initializer and in logs.
func (p *Processor) Process(ctx context.Context, path string, r io.Reader, w io.Writer) (*landmark.Collection, error) {
	src, err := decodeImg(r)
	if err != nil {
		return nil, err
	}
	res, err := p.Fit(ctx, path, toGray(src))
	if err != nil {
		return nil, err
	}
	if w == nil {
		return res.Landmarks, nil
	}

	out := src
	if p.Overlay != nil {
		out, err = p.Overlay.Draw(src, Annotation{
			Box:             res.Init.Box,
			Correspondences: res.Init.Correspondences,
			Initial:         res.Initial,
			Fitted:          res.Fitted,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := encodeImg(w, out); err != nil {
		return nil, err
	}
	return res.Landmarks, nil
}
