package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mapworks/mapscan/internal/detect"
	"github.com/mapworks/mapscan/internal/geo"
	"github.com/mapworks/mapscan/internal/geometry"
)

// ErrNotFound is returned when a job or segment does not exist.
var ErrNotFound = errors.New("not found")

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// canTransition reports whether moving from s to next is allowed. States
// only move forward: completed and failed are terminal, and a completed
// result never came from anywhere but processing.
func (s Status) canTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Coordinate is one parsed geographic reference found in the map text.
type Coordinate struct {
	Text       string       `json:"text"`
	Notation   geo.Notation `json:"notation"`
	Lat        float64      `json:"lat"`
	Lon        float64      `json:"lon"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"bbox"`
}

// Region is one clustered map region with its extracted segment.
type Region struct {
	Box         geometry.Box `json:"bbox"`
	SegmentPath string       `json:"segment_path"`
	Coordinates []Coordinate `json:"coordinates"`
}

// Result is the full analysis output for a completed job.
type Result struct {
	DetectedObjects []detect.Detection `json:"detected_objects"`
	Coordinates     []Coordinate       `json:"coordinates"`
	Regions         []Region           `json:"regions"`
}

// Job is the unit of work tracked by the pipeline.
type Job struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`

	// sourceName keys the uploaded image in the blob store. It is not
	// part of the external job representation.
	sourceName string
}

// JobStore tracks job records. Update enforces the forward-only lifecycle;
// implementations must reject any status change canTransition disallows.
type JobStore interface {
	Create(job Job) error
	Get(id string) (Job, error)
	Update(job Job) error
}

// MemoryJobStore is an in-memory JobStore safe for concurrent use.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryJobStore returns an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

func (s *MemoryJobStore) Create(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job, nil
}

func (s *MemoryJobStore) Update(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, job.ID)
	}
	if job.Status != current.Status && !current.Status.canTransition(job.Status) {
		return fmt.Errorf("job %s cannot move from %s to %s", job.ID, current.Status, job.Status)
	}
	job.UpdatedAt = time.Now()
	s.jobs[job.ID] = job
	return nil
}
