package sdm

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"golang.org/x/image/bmp"

	_ "golang.org/x/image/webp"
)

// decodeImg decodes an image, applying the EXIF orientation if present.
func decodeImg(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("could not decode the image: %v", err)
	}
	return img, nil
}

// toGray converts an image to 8 bit grayscale with min-point at (0, 0).
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	if b := img.Bounds(); b.Min != (image.Point{}) {
		img = imaging.Clone(img)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	return &image.Gray{
		Pix:    pigo.RgbToGrayscale(img),
		Stride: w,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// encodeImg encodes an image to a destination of type io.Writer.
// Files are encoded after their extension, anything else as jpeg.
func encodeImg(w io.Writer, img image.Image) error {
	switch w := w.(type) {
	case *os.File:
		switch strings.ToLower(filepath.Ext(w.Name())) {
		case "", ".jpg", ".jpeg":
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
		case ".png":
			return png.Encode(w, img)
		case ".bmp":
			return bmp.Encode(w, img)
		default:
			return errors.New("unsupported image format")
		}
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
	}
}
