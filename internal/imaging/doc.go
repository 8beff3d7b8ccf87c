// Package imaging decodes uploaded map images and extracts segment crops
// for clustered regions.
//
// Decoding accepts PNG, JPEG, GIF, BMP, TIFF, and WebP input and returns
// ErrInvalidImage for anything else, so callers can distinguish a bad upload
// from an internal failure. Segmentation clamps requested regions to the
// image bounds and guarantees every written crop has a non-zero area.
package imaging
