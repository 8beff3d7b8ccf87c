package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/mapworks/mapscan/internal/geometry"
)

// Tesseract recognizes text through the Tesseract OCR engine. A fresh
// gosseract client is created per call; the Tesseract model data itself is
// loaded once by the library and shared, so concurrent calls are safe.
type Tesseract struct {
	// Language is the Tesseract language code, e.g. "eng".
	Language string
}

// NewTesseract returns a Tesseract-backed engine for the given language code.
func NewTesseract(language string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{Language: language}
}

// Recognize implements the Engine capability. Tesseract wants a file path, so
// the image is written to a temporary PNG first.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) ([]Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpFile, err := os.CreateTemp("", "mapscan-ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if err := png.Encode(tmpFile, img); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("encode temp image: %w", err)
	}
	tmpFile.Close()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.Language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImage(tmpPath); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	// Line granularity, not word: a coordinate pair like "40.7128, -74.0060"
	// spans several words and must arrive as one fragment to be parseable.
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("get bounding boxes: %w", err)
	}

	fragments := make([]Fragment, 0, len(boxes))
	for _, box := range boxes {
		line := strings.Join(strings.Fields(box.Word), " ")
		if line == "" {
			continue
		}
		fragments = append(fragments, Fragment{
			Text:       line,
			Confidence: float64(box.Confidence) / 100.0,
			Box: geometry.Box{
				X1: box.Box.Min.X,
				Y1: box.Box.Min.Y,
				X2: box.Box.Max.X,
				Y2: box.Box.Max.Y,
			},
		})
	}
	return fragments, nil
}
