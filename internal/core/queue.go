package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Start launches the worker pool, the dispatcher that re-offers queued jobs
// the channel could not hold, and the janitor. Jobs already queued are
// offered immediately.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if e.slicer == nil {
		e.mu.Unlock()
		return fmt.Errorf("no slicer configured")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.baseCtx, e.stopAll = context.WithCancel(context.Background())
	e.mu.Unlock()

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	e.wg.Add(2)
	go e.dispatcher()
	go e.janitor()

	e.enqueueQueuedJobs()

	e.logger.Info("job engine started", "workers", e.cfg.WorkerCount, "queue_size", e.cfg.QueueSize)
	return nil
}

// Stop cancels running slicers and waits for every goroutine to exit.
// Jobs interrupted by shutdown are failed.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.stopAll()
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("job engine stopped")
}

func (e *Engine) dispatch(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if _, ok := e.offered[jobID]; ok {
		return
	}
	if _, ok := e.cancels[jobID]; ok {
		return
	}
	select {
	case e.jobCh <- jobID:
		e.offered[jobID] = struct{}{}
	default:
		// channel full; the dispatcher retries on its next tick
	}
}

func (e *Engine) dispatcher() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.enqueueQueuedJobs()
		}
	}
}

func (e *Engine) enqueueQueuedJobs() {
	for _, j := range e.registry.List(JobFilter{State: JobQueued}) {
		e.dispatch(j.ID)
	}
}

func (e *Engine) janitor() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.Sweep(now)
		}
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case jobID := <-e.jobCh:
			e.runJob(id, jobID)
		}
	}
}

// claim marks jobID as running on this process. Only one worker may hold
// the claim for a job at a time.
func (e *Engine) claim(jobID string) (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.offered, jobID)
	if _, busy := e.cancels[jobID]; busy || !e.running {
		return nil, false
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.cancels[jobID] = cancel
	return ctx, true
}

func (e *Engine) release(jobID string) {
	e.mu.Lock()
	cancel := e.cancels[jobID]
	delete(e.cancels, jobID)
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) claimed(jobID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.cancels[jobID]
	return ok
}

// interrupt signals the worker running jobID, if any, to stop.
func (e *Engine) interrupt(jobID string) {
	e.mu.RLock()
	cancel := e.cancels[jobID]
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) runJob(workerID int, jobID string) {
	ctx, ok := e.claim(jobID)
	if !ok {
		return
	}
	defer e.release(jobID)

	job, err := e.registry.Get(jobID)
	if err != nil || job.State != JobQueued {
		return
	}

	logger := e.logger.With("job_id", jobID, "worker", workerID)

	model, err := e.models.Get(job.ModelID)
	if err != nil {
		if err := e.Fail(jobID, fmt.Sprintf("model %s is no longer available", job.ModelID)); err != nil {
			logger.Debug("could not fail job", "error", err)
		}
		return
	}

	reporter := &jobReporter{
		engine:  e,
		jobID:   jobID,
		sampler: NewProgressSampler(10),
		logger:  logger,
	}
	reporter.Report(Progress{Percent: 0, Message: StageMessage(0)})

	// Cancel may have won the race against the first report.
	if job, err = e.registry.Get(jobID); err != nil || job.State != JobProcessing {
		return
	}

	start := time.Now()
	artifact, err := e.slicer.Slice(ctx, SliceRequest{
		JobID:      jobID,
		Model:      model,
		Parameters: job.Parameters.Clone(),
	}, reporter)

	if err != nil {
		reason := (&WorkerFailure{JobID: jobID, Err: err}).Error()
		if ctx.Err() != nil {
			current, gerr := e.registry.Get(jobID)
			if gerr != nil || current.State.Terminal() {
				logger.Info("slicer stopped", "status", current.State)
				return
			}
			reason = "slicing interrupted: service shutting down"
		}
		if err := e.Fail(jobID, reason); err != nil && !errors.Is(err, ErrInvalidTransition) {
			logger.Warn("could not fail job", "error", err)
		}
		return
	}

	if err := e.Complete(jobID, artifact); err != nil {
		logger.Info("discarding slicer result", "error", err)
		return
	}
	logger.Debug("slicer finished", "duration", time.Since(start))
}
