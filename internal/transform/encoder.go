package transform

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"math"
	"strings"
)

// Encoder writes an image at a native fractional quality in [0,1].
type Encoder interface {
	Format() string
	MimeType() string
	Encode(w io.Writer, img image.Image, quality float64) error
}

// NativeQuality normalizes a 0-100 quality setting to [0,1].
func NativeQuality(quality int) float64 {
	switch {
	case quality <= 0:
		return 0
	case quality >= 100:
		return 1
	default:
		return float64(quality) / 100
	}
}

// JPEGEncoder encodes baseline JPEG.
type JPEGEncoder struct{}

func (JPEGEncoder) Format() string   { return "jpeg" }
func (JPEGEncoder) MimeType() string { return "image/jpeg" }

// Encode maps the fractional quality back to libjpeg's 1-100 scale and
// flattens transparency onto white.
func (JPEGEncoder) Encode(w io.Writer, img image.Image, quality float64) error {
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: q})
}

func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// EncoderFor returns the encoder registered for an output format name.
func EncoderFor(format string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "jpeg", "jpg":
		return JPEGEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}
