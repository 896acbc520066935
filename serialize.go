package sdm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// modelFile is the on-disk layout of a ShapeModel. Floats are written in
// their shortest representation that parses back to the same value.
type modelFile struct {
	Comment      string      `yaml:"comment,omitempty"`
	NumLandmarks int         `yaml:"numLandmarks"`
	Landmarks    []string    `yaml:"landmarks,flow"`
	MeanShape    []float64   `yaml:"meanShape,flow"`
	Cascade      []stageFile `yaml:"cascade"`
}

type stageFile struct {
	DescriptorType   string           `yaml:"descriptorType"`
	DescriptorParams DescriptorParams `yaml:"descriptorParams,flow,omitempty"`
	Regressor        *matrixFile      `yaml:"regressor,flow"`
}

type matrixFile struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Data []float64 `yaml:"data,flow"`
}

// Load reads a model file using the default extractor registry.
func Load(path string) (*ShapeModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Decode(f, DefaultExtractors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Decode reads a model and creates the stage extractors through reg.
// Missing sections, dimension mismatches and unknown descriptor types
// are reported as ErrFormat.
func Decode(r io.Reader, reg ExtractorRegistry) (*ShapeModel, error) {
	var mf modelFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty model file", ErrFormat)
		}
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	n := mf.NumLandmarks
	if n <= 0 {
		return nil, fmt.Errorf("%w: numLandmarks must be positive, got %d", ErrFormat, n)
	}
	if len(mf.Landmarks) != n {
		return nil, fmt.Errorf("%w: %d landmark identifiers declared, %d given", ErrFormat, n, len(mf.Landmarks))
	}
	if len(mf.MeanShape) != 2*n {
		return nil, fmt.Errorf("%w: mean shape has %d values, expected %d", ErrFormat, len(mf.MeanShape), 2*n)
	}
	if len(mf.Cascade) == 0 {
		return nil, fmt.Errorf("%w: missing cascade", ErrFormat)
	}

	stages := make([]RegressionStage, len(mf.Cascade))
	for i, sf := range mf.Cascade {
		regressor, err := sf.Regressor.dense(2 * n)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		if sf.DescriptorType == "" {
			return nil, fmt.Errorf("%w: stage %d: missing descriptor type", ErrFormat, i)
		}
		factory, ok := reg.Lookup(sf.DescriptorType)
		if !ok {
			return nil, fmt.Errorf("%w: stage %d: unknown descriptor type %q (known: %v)",
				ErrFormat, i, sf.DescriptorType, reg.Types())
		}
		stages[i], err = NewRegressionStage(regressor, sf.DescriptorType, sf.DescriptorParams, factory)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
	}

	return NewShapeModel(mat.NewDense(2*n, 1, mf.MeanShape), mf.Landmarks, stages)
}

// Save writes the model to path, replacing any existing file.
func (m *ShapeModel) Save(path, comment string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Encode(f, comment); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes the model in the format read by Decode.
func (m *ShapeModel) Encode(w io.Writer, comment string) error {
	mf := modelFile{
		Comment:      comment,
		NumLandmarks: m.NumLandmarks(),
		Landmarks:    m.Identifiers(),
		MeanShape:    denseData(m.meanShape),
		Cascade:      make([]stageFile, len(m.stages)),
	}
	for i, s := range m.stages {
		r, c := s.regressor.Dims()
		mf.Cascade[i] = stageFile{
			DescriptorType:   s.descriptorType,
			DescriptorParams: s.params.clone(),
			Regressor:        &matrixFile{Rows: r, Cols: c, Data: denseData(s.regressor)},
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&mf); err != nil {
		return err
	}
	return enc.Close()
}

// dense validates the declared dimensions against the stored values.
func (mf *matrixFile) dense(cols int) (*mat.Dense, error) {
	if mf == nil {
		return nil, fmt.Errorf("%w: missing regressor", ErrFormat)
	}
	if mf.Rows < 1 || mf.Cols < 1 || mf.Cols != cols {
		return nil, fmt.Errorf("%w: regressor declared as %dx%d, expected (D+1)x%d", ErrFormat, mf.Rows, mf.Cols, cols)
	}
	// Rows*Cols may overflow for hostile headers.
	if len(mf.Data)%mf.Cols != 0 || len(mf.Data)/mf.Cols != mf.Rows {
		return nil, fmt.Errorf("%w: regressor declared as %dx%d, %d values given", ErrFormat, mf.Rows, mf.Cols, len(mf.Data))
	}
	return mat.NewDense(mf.Rows, mf.Cols, mf.Data), nil
}

// denseData flattens a matrix in row major order.
func denseData(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
