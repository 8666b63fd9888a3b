package core

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotFound     = errors.New("model not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrJobExists         = errors.New("job already exists")
	ErrModelInUse        = errors.New("model is referenced by an active job")
	ErrModelTooLarge     = errors.New("model exceeds build volume")
	ErrFileTooLarge      = errors.New("file too large")
)

// WorkerFailure is recorded on a job when the slicing backend fails.
type WorkerFailure struct {
	JobID string
	Err   error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("slicing failed: %v", e.Err)
}

func (e *WorkerFailure) Unwrap() error {
	return e.Err
}

func transitionError(jobID string, from JobState, op string) error {
	return fmt.Errorf("%w: cannot %s job %s in state %s", ErrInvalidTransition, op, jobID, from)
}
