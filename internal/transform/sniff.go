package transform

import "bytes"

// Format identifies a supported source container.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatWebP
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatWebP:
		return "webp"
	default:
		return "unknown"
	}
}

var (
	jpegSig  = []byte{0xff, 0xd8, 0xff}
	pngSig   = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	gif87Sig = []byte("GIF87a")
	gif89Sig = []byte("GIF89a")
	riffSig  = []byte("RIFF")
	webpSig  = []byte("WEBP")
)

// Sniff inspects the leading bytes of data for a known signature.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, jpegSig):
		return FormatJPEG
	case bytes.HasPrefix(data, pngSig):
		return FormatPNG
	case bytes.HasPrefix(data, gif87Sig), bytes.HasPrefix(data, gif89Sig):
		return FormatGIF
	case len(data) >= 12 && bytes.HasPrefix(data, riffSig) && bytes.Equal(data[8:12], webpSig):
		return FormatWebP
	default:
		return FormatUnknown
	}
}
