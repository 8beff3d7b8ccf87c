package imaging

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/mapworks/mapscan/internal/geometry"
	"github.com/mapworks/mapscan/internal/store"
)

// Segment describes one crop written to the blob store.
type Segment struct {
	Name string       `json:"name"`
	Box  geometry.Box `json:"bbox"`
}

// Segmenter extracts region crops from a source image and persists them as
// PNG blobs. Every request is widened by MinMargin on each side before
// cropping, which also guarantees a zero-area region never produces a
// zero-sized artifact.
type Segmenter struct {
	Blobs     store.BlobStore
	MinMargin int
}

// NewSegmenter returns a segmenter writing to blobs with the given margin.
func NewSegmenter(blobs store.BlobStore, minMargin int) *Segmenter {
	if minMargin < 1 {
		minMargin = 1
	}
	return &Segmenter{Blobs: blobs, MinMargin: minMargin}
}

// Extract crops box from img, clamped to the image bounds, and stores the
// crop under a name unique within the job. The returned segment carries the
// actual box that was cropped after clamping and margin expansion.
func (s *Segmenter) Extract(jobID string, img image.Image, box geometry.Box) (Segment, error) {
	bounds := img.Bounds()

	box = box.Expand(s.MinMargin).Clamp(bounds)
	if degenerate(box) {
		return Segment{}, fmt.Errorf("region (%d,%d)-(%d,%d) does not overlap image bounds %v",
			box.X1, box.Y1, box.X2, box.Y2, bounds)
	}

	crop := imaging.Crop(img, box.Rect())

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return Segment{}, fmt.Errorf("encode segment: %w", err)
	}

	name, err := segmentName(jobID)
	if err != nil {
		return Segment{}, err
	}
	if err := s.Blobs.Put(name, buf.Bytes()); err != nil {
		return Segment{}, fmt.Errorf("store segment: %w", err)
	}
	return Segment{Name: name, Box: box}, nil
}

// degenerate reports whether the box has no usable area. Clamping a box that
// lies entirely outside the bounds can invert its corners, so both axes are
// checked directly instead of the area product.
func degenerate(b geometry.Box) bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// segmentName builds a name unique across extractions for the same job. The
// random suffix keeps names collision-free without any per-job counter state.
func segmentName(jobID string) (string, error) {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate segment name: %w", err)
	}
	prefix := jobID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("segment_%s_%s.png", prefix, hex.EncodeToString(suffix)), nil
}
