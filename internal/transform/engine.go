package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"optibatch/internal/media"
	"optibatch/internal/services"
)

// Options controls one transform.
type Options struct {
	Quality  int
	Resize   bool
	MaxWidth int
}

// OptionsFromSettings extracts transform options from a run's settings.
func OptionsFromSettings(s media.Settings) Options {
	return Options{Quality: s.Quality, Resize: s.Resize, MaxWidth: s.MaxWidth}
}

// Result is the encoded output of one rendition.
type Result struct {
	Data           []byte
	OriginalBytes  int64
	OptimizedBytes int64
	Width          int
	Height         int
	SourceFormat   Format
	Format         string
	MimeType       string
}

// SavingsPercent is the rounded share of bytes saved.
func (r *Result) SavingsPercent() int {
	return media.SavingsPercent(r.OriginalBytes, r.OptimizedBytes)
}

// Engine transforms renditions with a fixed encoder.
type Engine struct {
	encoder Encoder
}

// NewEngine builds an engine; a nil encoder selects JPEG.
func NewEngine(encoder Encoder) *Engine {
	if encoder == nil {
		encoder = JPEGEncoder{}
	}
	return &Engine{encoder: encoder}
}

// Encoder returns the engine's output encoder.
func (e *Engine) Encoder() Encoder {
	return e.encoder
}

// Transform decodes src, applies orientation and the resize rule, and
// re-encodes it.
func (e *Engine) Transform(ctx context.Context, src []byte, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, services.Wrap(services.ErrValidation, "transform", "sniff", "empty source payload", nil)
	}
	format := Sniff(src)
	if format == FormatUnknown {
		return nil, services.Wrap(services.ErrValidation, "transform", "sniff", "unrecognized image container", nil)
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "transform", "decode", fmt.Sprintf("decode %s", format), err)
	}
	if format == FormatJPEG {
		img = applyOrientation(img, readOrientation(src))
	}

	b := img.Bounds()
	width, height := TargetSize(b.Dx(), b.Dy(), opts.Resize, opts.MaxWidth)
	img = scale(img, width, height)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := e.encoder.Encode(&out, img, NativeQuality(opts.Quality)); err != nil {
		return nil, services.Wrap(services.ErrExternal, "transform", "encode", e.encoder.Format(), err)
	}
	return &Result{
		Data:           out.Bytes(),
		OriginalBytes:  int64(len(src)),
		OptimizedBytes: int64(out.Len()),
		Width:          width,
		Height:         height,
		SourceFormat:   format,
		Format:         e.encoder.Format(),
		MimeType:       e.encoder.MimeType(),
	}, nil
}
