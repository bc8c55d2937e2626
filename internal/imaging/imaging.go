// Package imaging decodes images, computes change fingerprints, and prepares
// pixel tensors for vision models.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"golang.org/x/image/draw"
)

// CLIP image normalization constants (RGB order).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Load opens and decodes the image at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes an image in any registered format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}

// Fingerprint returns the integer mean (0..255, truncated) of the first
// channel of the image at path: red for color images, luma for grayscale.
func Fingerprint(path string) (int64, error) {
	img, err := Load(path)
	if err != nil {
		return 0, err
	}
	return FirstChannelMean(img), nil
}

// FirstChannelMean averages the first channel over every pixel of img.
func FirstChannelMean(img image.Image) int64 {
	b := img.Bounds()
	n := int64(b.Dx()) * int64(b.Dy())
	if n == 0 {
		return 0
	}
	var sum int64
	switch m := img.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := m.Pix[(y-b.Min.Y)*m.Stride:]
			for x := 0; x < b.Dx(); x++ {
				sum += int64(row[x])
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := m.Pix[(y-b.Min.Y)*m.Stride:]
			for x := 0; x < b.Dx(); x++ {
				sum += int64(row[x*4])
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				sum += int64(c.R)
			}
		}
	}
	return sum / n
}

// Preprocess resizes img so its short side equals size, center-crops a
// size×size square, and returns a CHW float tensor normalized with CLIP's
// mean and standard deviation.
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return make([]float32, 3*size*size)
	}
	var nw, nh int
	if w <= h {
		nw = size
		nh = int(float64(h) * float64(size) / float64(w))
	} else {
		nh = size
		nw = int(float64(w) * float64(size) / float64(h))
	}
	if nw < size {
		nw = size
	}
	if nh < size {
		nh = size
	}
	scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)

	offX := (nw - size) / 2
	offY := (nh - size) / 2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := scaled.PixOffset(x+offX, y+offY)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(scaled.Pix[i+c]) / 255
				out[c*plane+p] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
