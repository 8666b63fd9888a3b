package core

import (
	"context"
)

// SliceRequest is everything a slicing backend needs for one job. The
// parameters are the job's own snapshot and never change while it runs.
type SliceRequest struct {
	JobID      string
	Model      Model
	Parameters ParameterSet
}

// Slicer is a slicing backend. Implementations report progress through r,
// stop promptly once ctx is cancelled and return the finished G-code.
type Slicer interface {
	Slice(ctx context.Context, req SliceRequest, r Reporter) (*Artifact, error)
}

// Estimator is implemented by backends that can predict their own run time
// for the submit response.
type Estimator interface {
	EstimateSeconds(m Model, p ParameterSet) int
}

// SlicerFunc adapts a function to the Slicer interface.
type SlicerFunc func(ctx context.Context, req SliceRequest, r Reporter) (*Artifact, error)

func (f SlicerFunc) Slice(ctx context.Context, req SliceRequest, r Reporter) (*Artifact, error) {
	return f(ctx, req, r)
}
