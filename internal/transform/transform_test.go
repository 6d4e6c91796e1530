package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"optibatch/internal/services"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(w, h), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// withOrientation splices a minimal little-endian EXIF APP1 segment carrying
// the given orientation right after the JPEG SOI marker.
func withOrientation(src []byte, orientation byte) []byte {
	payload := []byte{
		'E', 'x', 'i', 'f', 0, 0,
		'I', 'I', 0x2a, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, orientation, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	length := len(payload) + 2
	segment := append([]byte{0xff, 0xe1, byte(length >> 8), byte(length)}, payload...)
	out := append([]byte{}, src[:2]...)
	out = append(out, segment...)
	return append(out, src[2:]...)
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0, 0, 0}, FormatJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, FormatPNG},
		{"gif", []byte("GIF89a\x01\x00"), FormatGIF},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"riff not webp", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), FormatUnknown},
		{"short", []byte{0xff}, FormatUnknown},
		{"text", []byte("hello world"), FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Fatalf("Sniff = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		resize       bool
		maxWidth     int
		wantW, wantH int
	}{
		{"disabled", 4000, 3000, false, 2048, 4000, 3000},
		{"within limit", 1200, 800, true, 2048, 1200, 800},
		{"exact limit", 2048, 1000, true, 2048, 2048, 1000},
		{"downscale", 4000, 3000, true, 2048, 2048, 1536},
		{"rounds height", 3000, 1999, true, 1000, 1000, 666},
		{"rounds half away from zero", 4, 3, true, 2, 2, 2},
		{"never zero height", 10000, 1, true, 100, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := TargetSize(tt.w, tt.h, tt.resize, tt.maxWidth)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Fatalf("TargetSize = %dx%d, want %dx%d", gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestNativeQuality(t *testing.T) {
	cases := map[int]float64{-5: 0, 0: 0, 50: 0.5, 82: 0.82, 100: 1, 140: 1}
	for in, want := range cases {
		if got := NativeQuality(in); got != want {
			t.Fatalf("NativeQuality(%d) = %v, want %v", in, got, want)
		}
	}
}

func TestTransformDownscalesPNG(t *testing.T) {
	engine := NewEngine(nil)
	src := encodePNG(t, 400, 200)

	result, err := engine.Transform(context.Background(), src, Options{Quality: 80, Resize: true, MaxWidth: 100})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if result.Width != 100 || result.Height != 50 {
		t.Fatalf("dimensions = %dx%d, want 100x50", result.Width, result.Height)
	}
	if result.OriginalBytes != int64(len(src)) || result.OptimizedBytes != int64(len(result.Data)) {
		t.Fatalf("byte counts mismatch: %+v", result)
	}
	if result.SourceFormat != FormatPNG || result.Format != "jpeg" || result.MimeType != "image/jpeg" {
		t.Fatalf("unexpected formats: %+v", result)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("output is not jpeg: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("decoded bounds = %v", b)
	}
}

func TestTransformKeepsDimensionsWhenResizeDisabled(t *testing.T) {
	engine := NewEngine(JPEGEncoder{})
	result, err := engine.Transform(context.Background(), encodeJPEG(t, 300, 120), Options{Quality: 60, Resize: false, MaxWidth: 100})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if result.Width != 300 || result.Height != 120 {
		t.Fatalf("dimensions = %dx%d, want 300x120", result.Width, result.Height)
	}
}

func TestTransformAppliesExifOrientation(t *testing.T) {
	src := withOrientation(encodeJPEG(t, 40, 20), 6)
	if got := readOrientation(src); got != 6 {
		t.Fatalf("readOrientation = %d, want 6", got)
	}
	result, err := NewEngine(nil).Transform(context.Background(), src, Options{Quality: 80})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if result.Width != 20 || result.Height != 40 {
		t.Fatalf("dimensions = %dx%d, want 20x40", result.Width, result.Height)
	}
}

func TestApplyOrientationRotatesPixels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	rotated := applyOrientation(src, 6)
	if b := rotated.Bounds(); b.Dx() != 1 || b.Dy() != 2 {
		t.Fatalf("bounds = %v, want 1x2", b)
	}
	if got := color.RGBAModel.Convert(rotated.At(0, 0)); got != red {
		t.Fatalf("top pixel = %v, want red", got)
	}
	if got := color.RGBAModel.Convert(rotated.At(0, 1)); got != blue {
		t.Fatalf("bottom pixel = %v, want blue", got)
	}

	mirrored := applyOrientation(src, 2)
	if got := color.RGBAModel.Convert(mirrored.At(0, 0)); got != blue {
		t.Fatalf("mirrored first pixel = %v, want blue", got)
	}
	if applyOrientation(src, 1) != image.Image(src) {
		t.Fatal("orientation 1 should return the input")
	}
}

func TestTransformRejectsBadInput(t *testing.T) {
	engine := NewEngine(nil)
	cases := map[string][]byte{
		"empty":   nil,
		"unknown": []byte("definitely not an image"),
		"corrupt": append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{0x00}, 32)...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Transform(context.Background(), data, Options{Quality: 80})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
		})
	}
}

func TestTransformHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine(nil).Transform(ctx, encodePNG(t, 10, 10), Options{Quality: 80}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEncoderFor(t *testing.T) {
	for _, name := range []string{"jpeg", "JPG", ""} {
		if _, err := EncoderFor(name); err != nil {
			t.Fatalf("EncoderFor(%q): %v", name, err)
		}
	}
	if _, err := EncoderFor("avif"); err == nil {
		t.Fatal("expected error for avif")
	}
}

func TestJPEGEncoderFlattensTransparencyOntoWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	var buf bytes.Buffer
	if err := (JPEGEncoder{}).Encode(&buf, img, 1); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := decoded.At(7, 7).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("transparent pixel = %d,%d,%d, want white", r>>8, g>>8, b>>8)
	}
}
