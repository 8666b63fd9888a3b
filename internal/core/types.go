package core

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// JobStates lists every state in lifecycle order.
var JobStates = []JobState{JobQueued, JobProcessing, JobCompleted, JobFailed, JobCancelled}

// Terminal reports whether no transition can leave s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ParseJobState converts a wire value into a JobState.
func ParseJobState(v string) (JobState, bool) {
	for _, s := range JobStates {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}

// Bounds is the axis-aligned bounding box of a model in millimetres.
type Bounds struct {
	X Range `json:"x"`
	Y Range `json:"y"`
	Z Range `json:"z"`
}

// Valid reports whether max >= min holds on every axis.
func (b Bounds) Valid() bool {
	return b.X.Max >= b.X.Min && b.Y.Max >= b.Y.Min && b.Z.Max >= b.Z.Min
}

func (b Bounds) Size() (x, y, z float64) {
	return b.X.Max - b.X.Min, b.Y.Max - b.Y.Min, b.Z.Max - b.Z.Min
}

// BuildVolume is the largest printable extent per axis in millimetres.
type BuildVolume struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// DefaultBuildVolume fits common desktop FDM printers.
var DefaultBuildVolume = BuildVolume{X: 300, Y: 300, Z: 400}

// Valid reports whether every axis is a positive finite extent.
func (v BuildVolume) Valid() bool {
	for _, d := range []float64{v.X, v.Y, v.Z} {
		if !(d > 0) || math.IsInf(d, 1) {
			return false
		}
	}
	return true
}

// Check returns ErrModelTooLarge when b does not fit inside v.
func (v BuildVolume) Check(b Bounds) error {
	dx, dy, dz := b.Size()
	if dx > v.X || dy > v.Y || dz > v.Z {
		return fmt.Errorf("%w: %.1fx%.1fx%.1fmm exceeds %.0fx%.0fx%.0fmm",
			ErrModelTooLarge, dx, dy, dz, v.X, v.Y, v.Z)
	}
	return nil
}

// Model is the metadata of an uploaded mesh. It is immutable once stored.
type Model struct {
	ID         string    `json:"model_id"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	Format     string    `json:"format"`
	Triangles  int       `json:"triangles"`
	Bounds     Bounds    `json:"bounds"`
	UploadedAt time.Time `json:"uploaded_at"`
	Path       string    `json:"-"`
}

// Job is a snapshot of one slicing request. Values handed out by the
// registry are copies; mutating them has no effect on the stored job.
type Job struct {
	ID            string       `json:"job_id"`
	ModelID       string       `json:"model_id"`
	Parameters    ParameterSet `json:"parameters"`
	State         JobState     `json:"status"`
	Progress      float64      `json:"progress"`
	Message       string       `json:"message,omitempty"`
	ETASeconds    *int         `json:"estimated_time_remaining,omitempty"`
	EstimatedTime int          `json:"estimated_time"`
	ArtifactSize  int64        `json:"artifact_size,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j Job) Clone() Job {
	cp := j
	cp.Parameters = j.Parameters.Clone()
	cp.ETASeconds = clonePtr(j.ETASeconds)
	cp.StartedAt = clonePtr(j.StartedAt)
	cp.FinishedAt = clonePtr(j.FinishedAt)
	return cp
}

// Artifact is the G-code produced by a completed job.
type Artifact struct {
	Data        []byte    `json:"-"`
	Size        int64     `json:"size"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewArtifact wraps data, stamping size and generation time.
func NewArtifact(data []byte) *Artifact {
	return &Artifact{
		Data:        data,
		Size:        int64(len(data)),
		GeneratedAt: time.Now(),
	}
}

// Clone returns a copy that shares no memory with a.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Data = bytes.Clone(a.Data)
	return &cp
}

// Progress is one report from a running worker. A nil ETASeconds means the
// remaining time is unknown; an empty Message keeps the previous one.
type Progress struct {
	Percent    float64
	Message    string
	ETASeconds *int
}

// Submission is the immediate answer to a slice request.
type Submission struct {
	JobID         string   `json:"job_id"`
	Status        JobState `json:"status"`
	EstimatedTime int      `json:"estimated_time"`
}

// JobFilter narrows List results. Zero values match everything.
type JobFilter struct {
	State   JobState
	ModelID string
}

func (f JobFilter) matches(j *Job) bool {
	if f.State != "" && j.State != f.State {
		return false
	}
	if f.ModelID != "" && j.ModelID != f.ModelID {
		return false
	}
	return true
}

type JobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

func (s *JobStats) add(state JobState) {
	s.Total++
	switch state {
	case JobQueued:
		s.Queued++
	case JobProcessing:
		s.Processing++
	case JobCompleted:
		s.Completed++
	case JobFailed:
		s.Failed++
	case JobCancelled:
		s.Cancelled++
	}
}

const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
)

// JobEvents lists every event name a sink may receive.
var JobEvents = []string{EventJobQueued, EventJobStarted, EventJobCompleted, EventJobFailed, EventJobCancelled}

// JobEvent describes a state change of a job.
type JobEvent struct {
	Event     string    `json:"event"`
	Job       Job       `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives job state changes. Implementations must not block.
type EventSink interface {
	SendJobEvent(event JobEvent)
}
