package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"image"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mapworks/mapscan/internal/cluster"
	"github.com/mapworks/mapscan/internal/detect"
	"github.com/mapworks/mapscan/internal/geo"
	"github.com/mapworks/mapscan/internal/geometry"
	"github.com/mapworks/mapscan/internal/imaging"
	"github.com/mapworks/mapscan/internal/ocr"
	"github.com/mapworks/mapscan/internal/store"
)

// Detector locates cartographic features in a map image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]detect.Detection, error)
}

// Recognizer extracts text fragments, optionally restricted to sub-regions.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, regions []geometry.Box) ([]ocr.Fragment, error)
}

// SegmentExtractor crops a region out of the source image and persists it.
type SegmentExtractor interface {
	Extract(jobID string, img image.Image, box geometry.Box) (imaging.Segment, error)
}

// Options tunes the pipeline. Zero values fall back to the defaults below.
type Options struct {
	Workers          int
	QueueSize        int
	MinOCRConfidence float64
	ClusterGap       int
	Retries          int
	RetryDelay       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.QueueSize < 1 {
		o.QueueSize = 64
	}
	if o.MinOCRConfidence <= 0 {
		o.MinOCRConfidence = 0.5
	}
	if o.ClusterGap <= 0 {
		o.ClusterGap = 40
	}
	if o.Retries < 1 {
		o.Retries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	return o
}

// Pipeline runs map analysis jobs on a worker pool.
type Pipeline struct {
	detector   Detector
	recognizer Recognizer
	segmenter  SegmentExtractor
	jobs       JobStore
	blobs      store.BlobStore
	opts       Options

	queue chan string
	wg    sync.WaitGroup
}

// New assembles a pipeline. Start must be called before Submit.
func New(detector Detector, recognizer Recognizer, segmenter SegmentExtractor, jobs JobStore, blobs store.BlobStore, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		detector:   detector,
		recognizer: recognizer,
		segmenter:  segmenter,
		jobs:       jobs,
		blobs:      blobs,
		opts:       opts,
		queue:      make(chan string, opts.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or the
// queue is closed by Stop.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pipeline) Stop() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, id)
		}
	}
}

// Submit validates the upload, records a queued job, and enqueues it.
// Undecodable bytes are rejected with imaging.ErrInvalidImage before any
// job is created.
func (p *Pipeline) Submit(ctx context.Context, data []byte) (Job, error) {
	if _, err := imaging.Decode(data); err != nil {
		return Job{}, err
	}

	id, err := newJobID()
	if err != nil {
		return Job{}, err
	}
	sourceName := "source_" + id
	if err := p.blobs.Put(sourceName, data); err != nil {
		return Job{}, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now()
	job := Job{
		ID:         id,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		sourceName: sourceName,
	}
	if err := p.jobs.Create(job); err != nil {
		return Job{}, err
	}

	select {
	case p.queue <- id:
		return job, nil
	case <-ctx.Done():
		p.fail(job, fmt.Errorf("enqueue canceled: %w", ctx.Err()))
		return Job{}, ctx.Err()
	}
}

// Status returns the current job record.
func (p *Pipeline) Status(id string) (Job, error) {
	return p.jobs.Get(id)
}

// Segment returns the stored PNG for a segment of a completed job. The name
// must belong to the job's result; segments of other jobs are not reachable
// through it.
func (p *Pipeline) Segment(id, name string) ([]byte, error) {
	job, err := p.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Result == nil {
		return nil, fmt.Errorf("%w: job %s has no segments", ErrNotFound, id)
	}
	for _, region := range job.Result.Regions {
		if region.SegmentPath == name {
			return p.blobs.Get(name)
		}
	}
	return nil, fmt.Errorf("%w: segment %s in job %s", ErrNotFound, name, id)
}

func (p *Pipeline) process(ctx context.Context, id string) {
	job, err := p.jobs.Get(id)
	if err != nil {
		log.Printf("pipeline: job %s vanished before processing: %v", id, err)
		return
	}

	job.Status = StatusProcessing
	if err := p.jobs.Update(job); err != nil {
		log.Printf("pipeline: job %s: %v", id, err)
		return
	}

	result, err := p.analyze(ctx, job)
	if err != nil {
		p.fail(job, err)
		return
	}

	job.Status = StatusCompleted
	job.Result = result
	if err := p.jobs.Update(job); err != nil {
		log.Printf("pipeline: job %s: %v", id, err)
	}
}

func (p *Pipeline) analyze(ctx context.Context, job Job) (*Result, error) {
	data, err := p.blobs.Get(job.sourceName)
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	var detections []detect.Detection
	err = p.withRetry(ctx, func() error {
		var derr error
		detections, derr = p.detector.Detect(ctx, img)
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}

	var fragments []ocr.Fragment
	textBoxes := textRegions(detections)
	err = p.withRetry(ctx, func() error {
		var oerr error
		fragments, oerr = p.recognizer.Recognize(ctx, img, textBoxes)
		return oerr
	})
	if err != nil {
		return nil, fmt.Errorf("recognition: %w", err)
	}

	coordinates := parseCoordinates(fragments, p.opts.MinOCRConfidence)
	regions, err := p.buildRegions(job.ID, img, detections, coordinates)
	if err != nil {
		return nil, err
	}

	return &Result{
		DetectedObjects: detections,
		Coordinates:     coordinates,
		Regions:         regions,
	}, nil
}

// buildRegions clusters detections and coordinates, then extracts one
// segment crop per region. An empty member set yields an empty result, not
// an error.
func (p *Pipeline) buildRegions(jobID string, img image.Image, detections []detect.Detection, coordinates []Coordinate) ([]Region, error) {
	members := make([]cluster.Member, 0, len(detections)+len(coordinates))
	for i, d := range detections {
		members = append(members, cluster.Member{Kind: cluster.KindDetection, Index: i, Box: d.Box})
	}
	for i, c := range coordinates {
		members = append(members, cluster.Member{Kind: cluster.KindCoordinate, Index: i, Box: c.Box})
	}

	regions := make([]Region, 0)
	for _, group := range cluster.Partition(members, p.opts.ClusterGap) {
		segment, err := p.segmenter.Extract(jobID, img, group.Box)
		if err != nil {
			return nil, fmt.Errorf("segment region: %w", err)
		}
		region := Region{
			Box:         segment.Box,
			SegmentPath: segment.Name,
			Coordinates: make([]Coordinate, 0),
		}
		for _, m := range group.Members {
			if m.Kind == cluster.KindCoordinate {
				region.Coordinates = append(region.Coordinates, coordinates[m.Index])
			}
		}
		regions = append(regions, region)
	}
	return regions, nil
}

// withRetry runs fn up to Retries times with a linearly growing delay.
// Capability adapters wrap every backend failure, so any error is treated
// as retryable until attempts run out.
func (p *Pipeline) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.opts.Retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.opts.Retries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * p.opts.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *Pipeline) fail(job Job, cause error) {
	job.Status = StatusFailed
	job.Error = cause.Error()
	if err := p.jobs.Update(job); err != nil {
		log.Printf("pipeline: job %s: %v", job.ID, err)
	}
}

// textRegions collects the boxes of text-class detections. Nil means no
// restriction, so recognition falls back to the whole image when the
// detector found no text blocks.
func textRegions(detections []detect.Detection) []geometry.Box {
	var boxes []geometry.Box
	for _, d := range detections {
		if d.Class == detect.ClassText {
			boxes = append(boxes, d.Box)
		}
	}
	return boxes
}

// parseCoordinates turns confident text fragments into coordinates. The
// combined confidence multiplies the recognition confidence by the
// notation's parse certainty. Fragments are first assembled into reading
// lines because engines that report word granularity split pairs like
// "40.7128, -74.0060" into pieces no notation matches; a line that fails to
// parse falls back to its individual fragments so single-axis labels on a
// shared line are still found.
func parseCoordinates(fragments []ocr.Fragment, minConfidence float64) []Coordinate {
	coordinates := make([]Coordinate, 0)
	for _, line := range assembleLines(fragments, minConfidence) {
		if cand, ok := geo.Parse(line.text); ok {
			coordinates = append(coordinates, newCoordinate(line.text, cand, line.confidence, line.box))
			continue
		}
		if len(line.words) == 1 {
			continue
		}
		for _, frag := range line.words {
			if cand, ok := geo.Parse(frag.Text); ok {
				coordinates = append(coordinates, newCoordinate(frag.Text, cand, frag.Confidence, frag.Box))
			}
		}
	}
	return coordinates
}

func newCoordinate(text string, cand geo.Candidate, confidence float64, box geometry.Box) Coordinate {
	return Coordinate{
		Text:       text,
		Notation:   cand.Notation,
		Lat:        cand.Lat,
		Lon:        cand.Lon,
		Confidence: confidence * cand.Certainty,
		Box:        box,
	}
}

// textLine is a left-to-right run of fragments sharing a reading line. Its
// confidence is the weakest member's, so a joined parse never claims more
// certainty than its least certain word.
type textLine struct {
	words      []ocr.Fragment
	text       string
	box        geometry.Box
	confidence float64
}

// assembleLines groups confident fragments into reading lines. A fragment
// joins a line when their boxes overlap vertically and the horizontal gap
// stays within twice the taller box's height; anything further apart is a
// separate label, so numbers from unrelated parts of the map are never
// joined into a fake pair.
func assembleLines(fragments []ocr.Fragment, minConfidence float64) []textLine {
	kept := make([]ocr.Fragment, 0, len(fragments))
	for _, frag := range fragments {
		if frag.Confidence >= minConfidence && strings.TrimSpace(frag.Text) != "" {
			kept = append(kept, frag)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Box.X1 != kept[j].Box.X1 {
			return kept[i].Box.X1 < kept[j].Box.X1
		}
		return kept[i].Box.Less(kept[j].Box)
	})

	var lines []textLine
	for _, frag := range kept {
		joined := false
		for i := range lines {
			if sameLine(lines[i].box, frag.Box) {
				lines[i].words = append(lines[i].words, frag)
				lines[i].text += " " + frag.Text
				lines[i].box = lines[i].box.Union(frag.Box)
				if frag.Confidence < lines[i].confidence {
					lines[i].confidence = frag.Confidence
				}
				joined = true
				break
			}
		}
		if !joined {
			lines = append(lines, textLine{
				words:      []ocr.Fragment{frag},
				text:       frag.Text,
				box:        frag.Box,
				confidence: frag.Confidence,
			})
		}
	}
	return lines
}

func sameLine(line, word geometry.Box) bool {
	overlap := min(line.Y2, word.Y2) - max(line.Y1, word.Y1)
	if overlap <= 0 {
		return false
	}
	gap := max(word.X1-line.X2, line.X1-word.X2)
	return gap <= 2*max(line.Height(), word.Height())
}

// newJobID returns a 16-character random hex identifier.
func newJobID() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
