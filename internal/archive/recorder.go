package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

// Recorder writes jobs evicted from the in-memory registry to job history,
// where the archiver later picks them up.
type Recorder struct {
	logger  *slog.Logger
	timeout time.Duration
}

func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger.With("component", "history"), timeout: 5 * time.Second}
}

// RecordEvicted matches the engine eviction hook signature. Failures are
// logged; the job is gone from memory either way.
func (r *Recorder) RecordEvicted(job core.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	h, err := db.NewHistoryRecord(job, time.Now())
	if err == nil {
		err = db.History.RecordHistory(ctx, h)
	}
	if err != nil {
		r.logger.Error("failed to record evicted job", "job_id", job.ID, "error", err)
		return
	}
	r.logger.Debug("evicted job recorded", "job_id", job.ID, "status", job.State)
}
