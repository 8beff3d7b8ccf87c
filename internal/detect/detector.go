package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/mapworks/mapscan/internal/geometry"
)

// ErrUnavailable signals that the detection backend failed or timed out. It is
// never used for an empty result; finding nothing is a valid outcome.
var ErrUnavailable = errors.New("detector unavailable")

// Class labels for detected cartographic elements.
type Class string

const (
	ClassText     Class = "text"
	ClassLegend   Class = "legend"
	ClassScaleBar Class = "scale_bar"
	ClassGridLine Class = "grid_line"
	ClassShape    Class = "shape"
)

// Detection is one detected element: a bounding box, a class label and the
// backend's confidence in [0, 1].
type Detection struct {
	Box        geometry.Box `json:"bbox"`
	Class      Class        `json:"class_name"`
	Confidence float64      `json:"confidence"`
}

// Detector is the pluggable detection capability.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Adapter wraps a Detector with the service's policy: a confidence floor below
// which detections are discarded, and a per-call timeout after which the
// backend is reported unavailable.
type Adapter struct {
	backend       Detector
	minConfidence float64
	timeout       time.Duration
}

// NewAdapter builds an adapter around a detection backend.
func NewAdapter(backend Detector, minConfidence float64, timeout time.Duration) *Adapter {
	return &Adapter{backend: backend, minConfidence: minConfidence, timeout: timeout}
}

// Detect runs the backend and filters its output by the confidence floor.
// Backend errors and timeouts are wrapped in ErrUnavailable. The returned
// detections are ordered by bounding-box origin so downstream stages see a
// stable sequence regardless of backend internals.
func (a *Adapter) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		detections []Detection
		err        error
	}
	ch := make(chan result, 1)
	go func() {
		detections, err := a.backend.Detect(ctx, img)
		ch <- result{detections, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		kept := make([]Detection, 0, len(r.detections))
		for _, d := range r.detections {
			if d.Confidence >= a.minConfidence {
				kept = append(kept, d)
			}
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].Box.Less(kept[j].Box) })
		return kept, nil
	}
}
