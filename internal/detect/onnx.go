package detect

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/mapworks/mapscan/internal/geometry"
)

// YOLO input geometry and decode thresholds. The model is expected to take a
// 1x3x640x640 float32 tensor and emit a 1x(4+numClasses)x8400 prediction grid.
const (
	onnxInputSize    = 640
	onnxPredictions  = 8400
	onnxRawFloor     = 0.25
	onnxIoUThreshold = 0.45
)

// CartographicClasses is the class order of the bundled map-element model.
func CartographicClasses() []Class {
	return []Class{ClassText, ClassLegend, ClassScaleBar, ClassGridLine}
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNX is a YOLO detection backend running through ONNX Runtime. Sessions are
// created once per backend and are read-only at inference time; a mutex
// serializes Run calls because the session owns its input and output tensors.
type ONNX struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	classes []Class
}

// NewONNX loads a YOLO model and prepares an inference session.
// libraryPath optionally points at the onnxruntime shared library; when empty
// the runtime's default lookup applies. classes must match the model's class
// order.
func NewONNX(modelPath, libraryPath string, classes []Class) (*ONNX, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("onnx: empty class list")
	}
	if err := initRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer options.Destroy()

	inputShape := ort.NewShape(1, 3, onnxInputSize, onnxInputSize)
	outputShape := ort.NewShape(1, int64(4+len(classes)), onnxPredictions)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &ONNX{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		classes: classes,
	}, nil
}

// Close releases the session and its tensors.
func (o *ONNX) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	if o.input != nil {
		o.input.Destroy()
		o.input = nil
	}
	if o.output != nil {
		o.output.Destroy()
		o.output = nil
	}
}

// Detect implements the Detector capability.
func (o *ONNX) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil, fmt.Errorf("onnx: session closed")
	}

	resized := imaging.Resize(img, onnxInputSize, onnxInputSize, imaging.Linear)
	fillInput(resized, o.input.GetData())

	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	bounds := img.Bounds()
	return o.decode(o.output.GetData(), bounds.Dx(), bounds.Dy())
}

// fillInput writes the resized image into the tensor buffer in CHW layout
// with channels normalized to [0, 1].
func fillInput(img image.Image, buffer []float32) {
	channelSize := onnxInputSize * onnxInputSize
	for y := 0; y < onnxInputSize; y++ {
		offset := y * onnxInputSize
		for x := 0; x < onnxInputSize; x++ {
			i := offset + x
			r, g, b, _ := img.At(x, y).RGBA()
			buffer[i] = float32(r>>8) / 255.0
			buffer[channelSize+i] = float32(g>>8) / 255.0
			buffer[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}

// decode converts the raw prediction grid into detections in source-image
// pixel space, dropping anchors below the raw score floor and suppressing
// duplicates with greedy IoU-based non-maximum suppression.
func (o *ONNX) decode(predictions []float32, originalWidth, originalHeight int) ([]Detection, error) {
	expected := (4 + len(o.classes)) * onnxPredictions
	if len(predictions) != expected {
		return nil, fmt.Errorf("onnx: unexpected output length: got %d, want %d", len(predictions), expected)
	}

	scaleX := float64(originalWidth) / float64(onnxInputSize)
	scaleY := float64(originalHeight) / float64(onnxInputSize)

	candidates := make([]Detection, 0, 64)
	for i := 0; i < onnxPredictions; i++ {
		bestClass := -1
		bestScore := float32(onnxRawFloor)
		for k := range o.classes {
			score := predictions[(4+k)*onnxPredictions+i]
			if score > bestScore {
				bestScore = score
				bestClass = k
			}
		}
		if bestClass < 0 {
			continue
		}

		cx := float64(predictions[0*onnxPredictions+i]) * scaleX
		cy := float64(predictions[1*onnxPredictions+i]) * scaleY
		w := float64(predictions[2*onnxPredictions+i]) * scaleX
		h := float64(predictions[3*onnxPredictions+i]) * scaleY

		box := geometry.NewBox(
			int(math.Round(cx-w/2)),
			int(math.Round(cy-h/2)),
			int(math.Round(cx+w/2)),
			int(math.Round(cy+h/2)),
		).Clamp(image.Rect(0, 0, originalWidth, originalHeight))
		if box.Area() == 0 {
			continue
		}

		candidates = append(candidates, Detection{
			Box:        box,
			Class:      o.classes[bestClass],
			Confidence: float64(bestScore),
		})
	}

	return suppress(candidates), nil
}

// suppress applies greedy non-maximum suppression across all classes.
func suppress(candidates []Detection) []Detection {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Box.Less(candidates[j].Box)
	})

	kept := make([]Detection, 0, len(candidates))
	for _, c := range candidates {
		duplicate := false
		for _, k := range kept {
			if c.Class == k.Class && iou(c.Box, k.Box) > onnxIoUThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b geometry.Box) float64 {
	if !a.Intersects(b) {
		return 0
	}
	ix := math.Min(float64(a.X2), float64(b.X2)) - math.Max(float64(a.X1), float64(b.X1))
	iy := math.Min(float64(a.Y2), float64(b.Y2)) - math.Max(float64(a.Y1), float64(b.Y1))
	intersection := ix * iy
	union := float64(a.Area()+b.Area()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
