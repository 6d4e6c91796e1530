package transform

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// TargetSize applies the downscale rule: when resizing is enabled and width
// exceeds maxWidth, both dimensions scale proportionally with the height
// rounded to the nearest integer. Otherwise dimensions pass through.
func TargetSize(width, height int, resize bool, maxWidth int) (int, int) {
	if !resize || maxWidth <= 0 || width <= maxWidth || width <= 0 {
		return width, height
	}
	scaled := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	if scaled < 1 {
		scaled = 1
	}
	return maxWidth, scaled
}

func scale(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
