package landmark

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FaceBoxName is the name given to the landmark read from a face box file.
const FaceBoxName = "face"

// muctPoints is the number of points annotated per image in the MUCT database.
const muctPoints = 76

// ErrMalformed is returned for landmark files that cannot be parsed.
var ErrMalformed = errors.New("malformed landmark file")

// ReadRect parses a face box file: the first non empty line holds the
// top-left x, top-left y, width and height, separated by spaces or commas.
func ReadRect(r io.Reader) (*Collection, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := splitFields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: face box needs 4 values, got %d", ErrMalformed, len(fields))
		}
		v, err := parseFloats(fields)
		if err != nil {
			return nil, err
		}
		return NewCollection(NewRect(FaceBoxName, v[0], v[1], v[2], v[3])), nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewCollection(), nil
}

// ReadPoints parses a named point file with one "name x y" triple per line.
// Empty lines and lines starting with '#' are ignored.
func ReadPoints(r io.Reader) (*Collection, error) {
	c := NewCollection()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := splitFields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d: expected name x y", ErrMalformed, line)
		}
		v, err := parseFloats(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c.Insert(New(fields[0], v[0], v[1]))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadMuct parses the MUCT ground truth csv. The header line is skipped, every
// other row maps an image name to its 76 landmarks, named "0" to "75".
// Points annotated as "0,0" are self occluded and marked not visible.
func ReadMuct(r io.Reader) (map[string]*Collection, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]*Collection{}, nil
		}
		return nil, err
	}

	all := make(map[string]*Collection)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2+2*muctPoints {
			return nil, fmt.Errorf("%w: muct row %q has %d fields", ErrMalformed, rec[0], len(rec))
		}
		c := NewCollection()
		for id := 0; id < muctPoints; id++ {
			xs, ys := rec[2+2*id], rec[3+2*id]
			v, err := parseFloats([]string{xs, ys})
			if err != nil {
				return nil, err
			}
			lm := New(strconv.Itoa(id), v[0], v[1])
			lm.Visible = !(xs == "0" && ys == "0")
			c.Insert(lm)
		}
		all[rec[0]] = c
	}
	return all, nil
}

// WritePoints writes the collection as "name x y" lines.
func WritePoints(w io.Writer, c *Collection) error {
	bw := bufio.NewWriter(w)
	for _, lm := range c.Landmarks() {
		if _, err := fmt.Fprintf(bw, "%s %s %s\n", lm.Name,
			strconv.FormatFloat(lm.X(), 'g', -1, 64),
			strconv.FormatFloat(lm.Y(), 'g', -1, 64),
		); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadRectFile reads a face box file from disk.
func ReadRectFile(path string) (*Collection, error) {
	return readFile(path, ReadRect)
}

// ReadPointsFile reads a named point file from disk.
func ReadPointsFile(path string) (*Collection, error) {
	return readFile(path, ReadPoints)
}

// ReadMuctFile reads a MUCT csv file from disk.
func ReadMuctFile(path string) (map[string]*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadMuct(f)
}

// WritePointsFile writes the collection to path, replacing any existing file.
func WritePointsFile(path string, c *Collection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePoints(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FileFor returns the landmark file belonging to an image. With an empty dir
// the file lives next to the image, otherwise in dir, with the same base name.
func FileFor(imagePath, dir, ext string) string {
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath)) + ext
	if dir == "" {
		return filepath.Join(filepath.Dir(imagePath), base)
	}
	return filepath.Join(dir, base)
}

func readFile(path string, parse func(io.Reader) (*Collection, error)) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func splitFields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == '\r'
	})
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrMalformed, f)
		}
		out[i] = v
	}
	return out, nil
}
