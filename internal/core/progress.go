package core

import (
	"log/slog"
	"math"
	"strings"
	"sync"
)

// Reporter carries progress from a running slicer back to the engine.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(p Progress)

func (f ReporterFunc) Report(p Progress) {
	f(p)
}

// StageMessage returns the user-facing description of a slicing stage.
func StageMessage(percent float64) string {
	switch {
	case percent < 10:
		return "Initializing slicer..."
	case percent < 30:
		return "Analyzing model geometry..."
	case percent < 50:
		return "Generating support structures..."
	case percent < 70:
		return "Creating layer paths..."
	case percent < 90:
		return "Optimizing toolpaths..."
	case percent < 100:
		return "Finalizing G-code..."
	}
	return "Slicing completed!"
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// ProgressSampler suppresses repetitive progress logs while keeping every
// stage change and every bucket crossing.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	lastStage  string
	lastBucket int
}

// NewProgressSampler emits when percent crosses a bucket boundary (default
// 10%) or the stage changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

func (s *ProgressSampler) ShouldLog(percent float64, stage string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
		emit = true
	}
	if percent >= 0 {
		bucket := int(math.Min(percent, 100) / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// jobReporter binds a Reporter to one job of an engine.
type jobReporter struct {
	engine  *Engine
	jobID   string
	sampler *ProgressSampler
	logger  *slog.Logger
}

func (r *jobReporter) Report(p Progress) {
	if err := r.engine.ReportProgress(r.jobID, p); err != nil {
		r.logger.Debug("progress report rejected", "error", err)
		return
	}
	if r.sampler.ShouldLog(p.Percent, p.Message) {
		attrs := []any{"percent", math.Round(clampPercent(p.Percent)*10) / 10}
		if p.Message != "" {
			attrs = append(attrs, "message", p.Message)
		}
		if p.ETASeconds != nil {
			attrs = append(attrs, "eta_seconds", *p.ETASeconds)
		}
		r.logger.Info("slicing progress", attrs...)
	}
}
