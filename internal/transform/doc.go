// Package transform re-encodes a single image rendition: it sniffs the
// container, applies EXIF orientation, downscales to a maximum width and
// encodes through a pluggable Encoder.
//
// The engine is pure and holds no state between calls, so the job
// controller can invoke it for one rendition at a time without coordination.
package transform
