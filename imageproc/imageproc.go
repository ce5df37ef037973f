// Package imageproc decodes image files and turns them into the NHWC float
// tensor the feature extractor expects.
package imageproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	"github.com/krau/visualnarrator/errs"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type ResizeMode string

const (
	// Stretch resizes straight to the target size, like Keras load_img.
	Stretch ResizeMode = "stretch"
	// Pad centres the image on a white square first.
	Pad ResizeMode = "pad"
)

var supportedExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {}, ".gif": {},
	".webp": {}, ".avif": {},
}

func SupportedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp", ".avif"}
}

func IsSupported(path string) bool {
	_, ok := supportedExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Open decodes the image at path. Every failure is an image decode failure.
func Open(path string) (image.Image, error) {
	if path == "" {
		return nil, errs.InvalidRequest("image path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errs.ImageDecode("open "+path, err)
	}
	if !IsSupported(path) {
		return nil, errs.ImageDecode("open "+path, fmt.Errorf("unsupported image format %q", filepath.Ext(path)))
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errs.ImageDecode("decode "+path, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errs.ImageDecode("decode "+path, errors.New("image has no pixels"))
	}
	return img, nil
}

// Preprocess resizes img to size×size and returns its RGB channels scaled to
// [0,1] in height, width, channel order. Alpha is discarded, not composited.
func Preprocess(img image.Image, size int, mode ResizeMode) []float32 {
	if mode == Pad {
		img = padSquare(img)
	}
	resized := imaging.Resize(img, size, size, imaging.NearestNeighbor)

	out := make([]float32, 0, 3*size*size)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			out = append(out,
				float32(px[0])/255.0,
				float32(px[1])/255.0,
				float32(px[2])/255.0,
			)
		}
	}
	return out
}

// white padding
func padSquare(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := max(h, w)
	canvas := imaging.New(maxDim, maxDim, color.White)
	return imaging.Paste(canvas, img, image.Pt((maxDim-w)/2, (maxDim-h)/2))
}

// Load is Open followed by Preprocess.
func Load(path string, size int, mode ResizeMode) ([]float32, error) {
	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, size, mode), nil
}
