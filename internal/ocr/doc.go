// Package ocr recognizes text fragments in raster map images.
//
// Like detection, recognition sits behind a capability interface: the Engine
// contract returns text fragments with bounding boxes and confidence, and the
// Adapter layers the service's policy on top — restriction to sub-regions,
// a per-call timeout, and translation of engine failures into ErrUnavailable.
// The shipped engine wraps the Tesseract OCR library via gosseract.
//
// Tesseract must be installed on the system along with language data for the
// configured language (eng by default):
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
package ocr
