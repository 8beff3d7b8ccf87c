package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mapworks/mapscan/internal/detect"
	"github.com/mapworks/mapscan/internal/geo"
	"github.com/mapworks/mapscan/internal/geometry"
	"github.com/mapworks/mapscan/internal/imaging"
	"github.com/mapworks/mapscan/internal/ocr"
	"github.com/mapworks/mapscan/internal/store"
)

type fakeDetector struct {
	mu         sync.Mutex
	detections []detect.Detection
	failures   int
	calls      int
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) ([]detect.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("%w: backend offline", detect.ErrUnavailable)
	}
	return f.detections, nil
}

type fakeRecognizer struct {
	fragments []ocr.Fragment
	err       error

	mu      sync.Mutex
	regions [][]geometry.Box
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img image.Image, regions []geometry.Box) ([]ocr.Fragment, error) {
	f.mu.Lock()
	f.regions = append(f.regions, regions)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.fragments, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, detector Detector, recognizer Recognizer) (*Pipeline, *store.Memory) {
	t.Helper()
	blobs := store.NewMemory()
	p := New(detector, recognizer, imaging.NewSegmenter(blobs, 8), NewMemoryJobStore(), blobs, Options{
		Workers:    2,
		RetryDelay: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		p.Stop()
		cancel()
	})
	return p, blobs
}

func waitForTerminal(t *testing.T, p *Pipeline, id string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := p.Status(id)
		if err != nil {
			t.Fatalf("Status(%s): %v", id, err)
		}
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return Job{}
}

func TestSubmitAndComplete(t *testing.T) {
	textBox := geometry.NewBox(40, 40, 220, 70)
	detector := &fakeDetector{detections: []detect.Detection{
		{Box: textBox, Class: detect.ClassText, Confidence: 0.9},
	}}
	recognizer := &fakeRecognizer{fragments: []ocr.Fragment{
		{Text: "40.7128, -74.0060", Confidence: 0.95, Box: textBox},
		{Text: "13.3700, 3.5000", Confidence: 0.3, Box: geometry.NewBox(400, 400, 480, 420)},
	}}
	p, _ := newTestPipeline(t, detector, recognizer)

	job, err := p.Submit(context.Background(), pngBytes(t, 512, 512))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusQueued {
		t.Errorf("submitted status = %s, want queued", job.Status)
	}

	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s (error %q), want completed", done.Status, done.Error)
	}
	result := done.Result
	if result == nil {
		t.Fatal("completed job has no result")
	}
	if len(result.DetectedObjects) != 1 {
		t.Fatalf("detected objects = %d, want 1", len(result.DetectedObjects))
	}
	if len(result.Coordinates) != 1 {
		t.Fatalf("coordinates = %d, want 1 (low-confidence fragment must be dropped)", len(result.Coordinates))
	}
	coord := result.Coordinates[0]
	if math.Abs(coord.Lat-40.7128) > 1e-9 || math.Abs(coord.Lon+74.0060) > 1e-9 {
		t.Errorf("coordinate = (%f, %f), want (40.7128, -74.0060)", coord.Lat, coord.Lon)
	}
	if coord.Confidence <= 0 || coord.Confidence >= 0.95 {
		t.Errorf("combined confidence = %f, want below the recognition confidence", coord.Confidence)
	}
	if len(result.Regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(result.Regions))
	}
	region := result.Regions[0]
	if len(region.Coordinates) != 1 {
		t.Errorf("region coordinates = %d, want 1", len(region.Coordinates))
	}
	// Segment box is the text detection box widened by the 8px margin.
	if region.Box != geometry.NewBox(32, 32, 228, 78) {
		t.Errorf("region box = %+v, want (32,32)-(228,78)", region.Box)
	}

	// The recognizer must have been restricted to the text detection.
	recognizer.mu.Lock()
	regions := recognizer.regions
	recognizer.mu.Unlock()
	if len(regions) != 1 || len(regions[0]) != 1 || regions[0][0] != textBox {
		t.Errorf("recognizer regions = %v, want [[%v]]", regions, textBox)
	}

	data, err := p.Segment(job.ID, region.SegmentPath)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	crop, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("segment is not a png: %v", err)
	}
	if crop.Bounds().Dx() == 0 || crop.Bounds().Dy() == 0 {
		t.Errorf("segment has zero area: %v", crop.Bounds())
	}
}

// Tesseract-style word granularity: the pair arrives as two fragments that
// only parse once joined into a reading line.
func TestWordFragmentsAssembleIntoPair(t *testing.T) {
	textBox := geometry.NewBox(40, 40, 220, 64)
	detector := &fakeDetector{detections: []detect.Detection{
		{Box: textBox, Class: detect.ClassText, Confidence: 0.9},
	}}
	recognizer := &fakeRecognizer{fragments: []ocr.Fragment{
		{Text: "40.7128,", Confidence: 0.95, Box: geometry.NewBox(40, 40, 120, 64)},
		{Text: "-74.0060", Confidence: 0.9, Box: geometry.NewBox(128, 40, 220, 64)},
	}}
	p, _ := newTestPipeline(t, detector, recognizer)

	job, err := p.Submit(context.Background(), pngBytes(t, 512, 512))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s (error %q)", done.Status, done.Error)
	}
	if len(done.Result.Coordinates) != 1 {
		t.Fatalf("coordinates = %d, want 1 from the joined fragments", len(done.Result.Coordinates))
	}
	coord := done.Result.Coordinates[0]
	if math.Abs(coord.Lat-40.7128) > 1e-9 || math.Abs(coord.Lon+74.0060) > 1e-9 {
		t.Errorf("coordinate = (%f, %f), want (40.7128, -74.0060)", coord.Lat, coord.Lon)
	}
	if coord.Box != geometry.NewBox(40, 40, 220, 64) {
		t.Errorf("coordinate box = %+v, want the union of both fragments", coord.Box)
	}
	// Line confidence is the weakest member times the notation certainty.
	if coord.Confidence > 0.9 {
		t.Errorf("confidence = %f, want at most the weakest fragment's", coord.Confidence)
	}
}

func TestWordFragmentsAssembleIntoUTM(t *testing.T) {
	recognizer := &fakeRecognizer{fragments: []ocr.Fragment{
		{Text: "18T", Confidence: 0.9, Box: geometry.NewBox(40, 40, 70, 64)},
		{Text: "583959", Confidence: 0.88, Box: geometry.NewBox(78, 40, 130, 64)},
		{Text: "4507349", Confidence: 0.92, Box: geometry.NewBox(138, 40, 196, 64)},
	}}
	p, _ := newTestPipeline(t, &fakeDetector{}, recognizer)

	job, err := p.Submit(context.Background(), pngBytes(t, 512, 512))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s (error %q)", done.Status, done.Error)
	}
	if len(done.Result.Coordinates) != 1 {
		t.Fatalf("coordinates = %d, want 1 from the joined UTM words", len(done.Result.Coordinates))
	}
	coord := done.Result.Coordinates[0]
	if coord.Notation != geo.NotationUTM {
		t.Errorf("notation = %s, want utm", coord.Notation)
	}
	if math.Abs(coord.Lat-40.7128) > 1e-2 || math.Abs(coord.Lon+74.0060) > 1e-2 {
		t.Errorf("coordinate = (%f, %f), want roughly (40.7128, -74.0060)", coord.Lat, coord.Lon)
	}
}

// Numbers from unrelated parts of the map must not be joined into a pair.
func TestDistantFragmentsAreNotJoined(t *testing.T) {
	recognizer := &fakeRecognizer{fragments: []ocr.Fragment{
		{Text: "12.5", Confidence: 0.9, Box: geometry.NewBox(10, 10, 40, 26)},
		{Text: "47.8", Confidence: 0.9, Box: geometry.NewBox(400, 12, 430, 28)},
	}}
	p, _ := newTestPipeline(t, &fakeDetector{}, recognizer)

	job, err := p.Submit(context.Background(), pngBytes(t, 512, 512))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s (error %q)", done.Status, done.Error)
	}
	if len(done.Result.Coordinates) != 0 {
		t.Errorf("coordinates = %+v, want none from unrelated labels", done.Result.Coordinates)
	}
}

func TestSubmitRejectsInvalidImage(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeDetector{}, &fakeRecognizer{})

	_, err := p.Submit(context.Background(), []byte("definitely not an image"))
	if !errors.Is(err, imaging.ErrInvalidImage) {
		t.Errorf("Submit garbage: got %v, want ErrInvalidImage", err)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeDetector{}, &fakeRecognizer{})

	if _, err := p.Status("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status unknown job: got %v, want ErrNotFound", err)
	}
}

func TestDetectorFailureFailsJob(t *testing.T) {
	detector := &fakeDetector{failures: 100}
	p, _ := newTestPipeline(t, detector, &fakeRecognizer{})

	job, err := p.Submit(context.Background(), pngBytes(t, 64, 64))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("job finished %s, want failed", done.Status)
	}
	if done.Error == "" {
		t.Error("failed job carries no error message")
	}
	if detector.calls != 3 {
		t.Errorf("detector called %d times, want 3 attempts", detector.calls)
	}
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	detector := &fakeDetector{failures: 2}
	p, _ := newTestPipeline(t, detector, &fakeRecognizer{})

	job, err := p.Submit(context.Background(), pngBytes(t, 64, 64))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s (error %q), want completed after retries", done.Status, done.Error)
	}
	if detector.calls != 3 {
		t.Errorf("detector called %d times, want 3", detector.calls)
	}
}

func TestRecognizerFailureFailsJob(t *testing.T) {
	recognizer := &fakeRecognizer{err: fmt.Errorf("%w: tesseract missing", ocr.ErrUnavailable)}
	p, _ := newTestPipeline(t, &fakeDetector{}, recognizer)

	job, err := p.Submit(context.Background(), pngBytes(t, 64, 64))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("job finished %s, want failed", done.Status)
	}
}

func TestEmptyImageCompletesWithNoRegions(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeDetector{}, &fakeRecognizer{})

	job, err := p.Submit(context.Background(), pngBytes(t, 128, 128))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s, want completed", done.Status)
	}
	if len(done.Result.Regions) != 0 || len(done.Result.Coordinates) != 0 || len(done.Result.DetectedObjects) != 0 {
		t.Errorf("empty image produced non-empty result: %+v", done.Result)
	}
}

func TestSegmentUnknownName(t *testing.T) {
	detector := &fakeDetector{detections: []detect.Detection{
		{Box: geometry.NewBox(10, 10, 60, 60), Class: detect.ClassLegend, Confidence: 0.8},
	}}
	p, _ := newTestPipeline(t, detector, &fakeRecognizer{})

	job, err := p.Submit(context.Background(), pngBytes(t, 128, 128))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, p, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job finished %s, want completed", done.Status)
	}

	if _, err := p.Segment(job.ID, "segment_forged_name.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Segment with forged name: got %v, want ErrNotFound", err)
	}
	if _, err := p.Segment("no-such-job", done.Result.Regions[0].SegmentPath); !errors.Is(err, ErrNotFound) {
		t.Errorf("Segment of unknown job: got %v, want ErrNotFound", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.canTransition(tt.to); got != tt.want {
			t.Errorf("canTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobStoreRejectsBackwardUpdate(t *testing.T) {
	jobs := NewMemoryJobStore()
	job := Job{ID: "j1", Status: StatusQueued}
	if err := jobs.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	job.Status = StatusProcessing
	if err := jobs.Update(job); err != nil {
		t.Fatalf("Update to processing: %v", err)
	}
	job.Status = StatusCompleted
	if err := jobs.Update(job); err != nil {
		t.Fatalf("Update to completed: %v", err)
	}

	job.Status = StatusProcessing
	if err := jobs.Update(job); err == nil {
		t.Error("Update accepted a backward transition out of completed")
	}
	job.Status = StatusFailed
	if err := jobs.Update(job); err == nil {
		t.Error("Update accepted failed after completed")
	}
}
