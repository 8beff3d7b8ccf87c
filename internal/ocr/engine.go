package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/disintegration/imaging"

	"github.com/mapworks/mapscan/internal/geometry"
)

// ErrUnavailable signals that the recognition engine failed or timed out.
// An image with no readable text is an empty result, not an error.
var ErrUnavailable = errors.New("ocr unavailable")

// Fragment is one recognized piece of text with its location in the source
// image and the engine's confidence in [0, 1].
type Fragment struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"bbox"`
}

// Engine is the pluggable text-recognition capability.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]Fragment, error)
}

// Adapter wraps an Engine with sub-region restriction and a per-call timeout.
type Adapter struct {
	engine  Engine
	timeout time.Duration
}

// NewAdapter builds an adapter around a recognition engine.
func NewAdapter(engine Engine, timeout time.Duration) *Adapter {
	return &Adapter{engine: engine, timeout: timeout}
}

// Recognize runs OCR over the given sub-regions of img, or over the whole
// image when regions is empty. Fragment boxes are always expressed in the
// source image's coordinates, and fragments are returned ordered by
// bounding-box origin. Engine failures and timeouts surface as ErrUnavailable.
func (a *Adapter) Recognize(ctx context.Context, img image.Image, regions []geometry.Box) ([]Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if len(regions) == 0 {
		fragments, err := a.recognize(ctx, img)
		if err != nil {
			return nil, err
		}
		sortFragments(fragments)
		return fragments, nil
	}

	bounds := img.Bounds()
	all := make([]Fragment, 0)
	for _, region := range regions {
		box := region.Clamp(bounds)
		if box.Area() == 0 {
			continue
		}

		cropped := imaging.Crop(img, box.Rect())
		fragments, err := a.recognize(ctx, cropped)
		if err != nil {
			return nil, err
		}

		// Fragment boxes come back relative to the crop.
		for _, f := range fragments {
			f.Box.X1 += box.X1
			f.Box.X2 += box.X1
			f.Box.Y1 += box.Y1
			f.Box.Y2 += box.Y1
			all = append(all, f)
		}
	}
	sortFragments(all)
	return all, nil
}

func (a *Adapter) recognize(ctx context.Context, img image.Image) ([]Fragment, error) {
	type result struct {
		fragments []Fragment
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		fragments, err := a.engine.Recognize(ctx, img)
		ch <- result{fragments, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		return r.fragments, nil
	}
}

func sortFragments(fragments []Fragment) {
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].Box.Less(fragments[j].Box) })
}
