package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultEstimateSeconds is returned from Submit when the slicer cannot
// estimate its own run time.
const DefaultEstimateSeconds = 120

const queuedTimeoutMessage = "timed out waiting for a slicing worker"

type EngineConfig struct {
	WorkerCount      int
	QueueSize        int
	Retention        time.Duration
	QueuedTimeout    time.Duration
	DispatchInterval time.Duration
	SweepInterval    time.Duration
	EvictSuperseded  bool
	BuildVolume      BuildVolume
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.WorkerCount < 1 {
		c.WorkerCount = 2
	}
	if c.QueueSize < 1 {
		c.QueueSize = 100
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if !c.BuildVolume.Valid() {
		c.BuildVolume = DefaultBuildVolume
	}
	return c
}

// ModelSource resolves model references at submission and run time.
type ModelSource interface {
	Get(id string) (Model, error)
}

// Engine is the job state machine. Every transition goes through the
// registry's per-job compare-and-update, so worker reports, cancellation
// and status reads never observe a partially applied change.
//
// Without Start the engine accepts submissions but runs nothing; callers
// then drive jobs through ReportProgress, Complete and Fail themselves.
type Engine struct {
	cfg      EngineConfig
	models   ModelSource
	registry *Registry
	slicer   Slicer
	events   EventSink
	logger   *slog.Logger

	jobCh   chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
	stopAll context.CancelFunc

	// modelMu orders submissions against model deletion.
	modelMu sync.RWMutex

	mu      sync.RWMutex
	running bool
	offered map[string]struct{}
	cancels map[string]context.CancelFunc
}

func NewEngine(cfg EngineConfig, models ModelSource, slicer Slicer, events EventSink, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		models:   models,
		registry: NewRegistry(cfg.Retention),
		slicer:   slicer,
		events:   events,
		logger:   logger.With("component", "engine"),
		jobCh:    make(chan string, cfg.QueueSize),
		offered:  make(map[string]struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetEvictionHook forwards evicted job snapshots to fn.
func (e *Engine) SetEvictionHook(fn func(Job)) {
	e.registry.SetEvictionHook(fn)
}

// Submit validates the request and queues a new job. It never waits for
// slicing to start.
func (e *Engine) Submit(ctx context.Context, modelID string, raw ParameterInput) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}

	params, err := Validate(raw)
	if err != nil {
		return Submission{}, err
	}

	e.modelMu.RLock()
	model, err := e.models.Get(modelID)
	if err != nil {
		e.modelMu.RUnlock()
		return Submission{}, err
	}
	if err := e.cfg.BuildVolume.Check(model.Bounds); err != nil {
		e.modelMu.RUnlock()
		return Submission{}, fmt.Errorf("model %s: %w", model.ID, err)
	}

	estimate := DefaultEstimateSeconds
	if est, ok := e.slicer.(Estimator); ok {
		estimate = est.EstimateSeconds(model, params)
	}

	job := Job{
		ID:            uuid.New().String(),
		ModelID:       model.ID,
		Parameters:    params.Clone(),
		State:         JobQueued,
		Message:       "Queued",
		EstimatedTime: estimate,
		CreatedAt:     time.Now().UTC(),
	}
	err = e.registry.Insert(job)
	e.modelMu.RUnlock()
	if err != nil {
		return Submission{}, fmt.Errorf("failed to register job: %w", err)
	}

	e.logger.InfoContext(ctx, "job queued", "job_id", job.ID, "model_id", model.ID, "estimated_time", estimate)
	e.emit(EventJobQueued, job)

	if e.cfg.EvictSuperseded {
		if evicted := e.registry.EvictSuperseded(model.ID, job.ID); len(evicted) > 0 {
			e.logger.Debug("evicted superseded jobs", "model_id", model.ID, "count", len(evicted))
		}
	}

	e.dispatch(job.ID)

	return Submission{JobID: job.ID, Status: JobQueued, EstimatedTime: estimate}, nil
}

// ReportProgress records worker progress. Reports for terminal jobs are
// dropped, the first report moves a queued job to processing, and a report
// below the stored progress is ignored entirely.
func (e *Engine) ReportProgress(jobID string, p Progress) error {
	var started, stale bool
	job, err := e.registry.Update(jobID, func(j *Job) error {
		if j.State.Terminal() {
			stale = true
			return SkipUpdate
		}
		percent := clampPercent(p.Percent)
		if j.State == JobQueued {
			now := time.Now().UTC()
			j.State = JobProcessing
			j.StartedAt = &now
			started = true
		} else if percent < j.Progress {
			return SkipUpdate
		}
		j.Progress = percent
		if p.Message != "" {
			j.Message = p.Message
		}
		j.ETASeconds = nil
		if p.ETASeconds != nil && *p.ETASeconds >= 0 {
			j.ETASeconds = clonePtr(p.ETASeconds)
		}
		return nil
	})
	switch {
	case errors.Is(err, SkipUpdate):
		if stale {
			e.logger.Debug("ignoring progress for finished job", "job_id", jobID, "status", job.State)
		}
		return nil
	case err != nil:
		return err
	}

	if started {
		e.logger.Info("job started", "job_id", jobID)
		e.emit(EventJobStarted, job)
	}
	return nil
}

// Complete attaches the artifact and finishes a processing job.
func (e *Engine) Complete(jobID string, artifact *Artifact) error {
	if artifact == nil {
		return fmt.Errorf("complete job %s: artifact is required", jobID)
	}
	stored := artifact.Clone()
	job, err := e.registry.UpdateWithArtifact(jobID, stored, func(j *Job) error {
		if j.State != JobProcessing {
			return transitionError(j.ID, j.State, "complete")
		}
		now := time.Now().UTC()
		j.State = JobCompleted
		j.Progress = 100
		j.Message = StageMessage(100)
		j.ETASeconds = ptr(0)
		j.ArtifactSize = stored.Size
		j.FinishedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("job completed", "job_id", jobID, "bytes", job.ArtifactSize)
	e.emit(EventJobCompleted, job)
	return nil
}

// Fail finishes a queued or processing job with reason as its message.
func (e *Engine) Fail(jobID string, reason string) error {
	job, err := e.registry.Update(jobID, func(j *Job) error {
		if j.State.Terminal() {
			return transitionError(j.ID, j.State, "fail")
		}
		now := time.Now().UTC()
		j.State = JobFailed
		j.Message = reason
		j.ETASeconds = nil
		j.FinishedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	e.interrupt(jobID)
	e.logger.Warn("job failed", "job_id", jobID, "reason", reason)
	e.emit(EventJobFailed, job)
	return nil
}

// Cancel stops a queued or processing job. Cancelling a cancelled job is a
// no-op; cancelling a completed or failed job is an invalid transition.
func (e *Engine) Cancel(jobID string) (Job, error) {
	job, err := e.registry.Update(jobID, func(j *Job) error {
		switch j.State {
		case JobCancelled:
			return SkipUpdate
		case JobCompleted, JobFailed:
			return transitionError(j.ID, j.State, "cancel")
		}
		now := time.Now().UTC()
		j.State = JobCancelled
		j.Message = "Cancelled"
		j.ETASeconds = nil
		j.FinishedAt = &now
		return nil
	})
	if errors.Is(err, SkipUpdate) {
		return job, nil
	}
	if err != nil {
		return Job{}, err
	}

	e.interrupt(jobID)
	e.logger.Info("job cancelled", "job_id", jobID)
	e.emit(EventJobCancelled, job)
	return job, nil
}

func (e *Engine) GetStatus(jobID string) (Job, error) {
	return e.registry.Get(jobID)
}

// FetchArtifact returns a private copy of a completed job's G-code.
func (e *Engine) FetchArtifact(jobID string) (*Artifact, error) {
	artifact, job, err := e.registry.Artifact(jobID)
	if err != nil {
		return nil, err
	}
	if job.State != JobCompleted || artifact == nil {
		return nil, transitionError(job.ID, job.State, "download")
	}
	return artifact, nil
}

func (e *Engine) List(filter JobFilter) []Job {
	return e.registry.List(filter)
}

func (e *Engine) Stats() JobStats {
	return e.registry.Stats()
}

// Remove drops a finished job and its artifact before its retention ends.
func (e *Engine) Remove(jobID string) (Job, error) {
	return e.registry.Remove(jobID)
}

// DeleteModel calls remove unless a queued or processing job references
// modelID. Submissions for any model wait until it returns.
func (e *Engine) DeleteModel(modelID string, remove func(id string) error) error {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	if e.HasActiveJobs(modelID) {
		return fmt.Errorf("%w: %s", ErrModelInUse, modelID)
	}
	return remove(modelID)
}

// HasActiveJobs reports whether any non-terminal job references modelID.
func (e *Engine) HasActiveJobs(modelID string) bool {
	for _, j := range e.registry.List(JobFilter{ModelID: modelID}) {
		if !j.State.Terminal() {
			return true
		}
	}
	return false
}

// Watch streams snapshots of the job until it reaches a terminal state,
// is evicted, or ctx ends. Intermediate changes may be coalesced but the
// terminal snapshot is always delivered.
func (e *Engine) Watch(ctx context.Context, jobID string) (<-chan Job, error) {
	if _, err := e.registry.Get(jobID); err != nil {
		return nil, err
	}

	out := make(chan Job, 1)
	go func() {
		defer close(out)
		for {
			job, changed, err := e.registry.Watch(jobID)
			if err != nil {
				return
			}
			select {
			case out <- job:
			case <-ctx.Done():
				return
			}
			if job.State.Terminal() {
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Sweep fails jobs that waited in the queue past the queued timeout and
// evicts terminal jobs past retention. The janitor calls it periodically.
func (e *Engine) Sweep(now time.Time) {
	if e.cfg.QueuedTimeout > 0 {
		cutoff := now.Add(-e.cfg.QueuedTimeout)
		for _, j := range e.registry.List(JobFilter{State: JobQueued}) {
			if !j.CreatedAt.Before(cutoff) || e.claimed(j.ID) {
				continue
			}
			if err := e.Fail(j.ID, queuedTimeoutMessage); err != nil && !errors.Is(err, ErrInvalidTransition) {
				e.logger.Warn("failed to expire queued job", "job_id", j.ID, "error", err)
			}
		}
	}

	if evicted := e.registry.Sweep(now); len(evicted) > 0 {
		e.logger.Debug("evicted expired jobs", "count", len(evicted))
	}
}

func (e *Engine) emit(event string, job Job) {
	if e.events == nil {
		return
	}
	e.events.SendJobEvent(JobEvent{
		Event:     event,
		Job:       job,
		Timestamp: time.Now().UTC(),
	})
}
