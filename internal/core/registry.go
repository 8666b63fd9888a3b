package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SkipUpdate can be returned by an Update callback to leave the job
// untouched. Update passes it back so callers can tell nothing changed.
var SkipUpdate = errors.New("skip update")

type entry struct {
	mu       sync.Mutex
	job      Job
	artifact *Artifact
	changed  chan struct{}
	removed  bool
}

// notify wakes every watcher. Callers hold e.mu.
func (e *entry) notify() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// Registry owns every job. Each job has its own lock so updates to one job
// are serialized while different jobs proceed independently.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	retention time.Duration
	onEvict   func(Job)
}

// NewRegistry creates a registry that evicts terminal jobs once they have
// been finished for longer than retention. A zero retention disables
// time-based eviction.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		retention: retention,
	}
}

// SetEvictionHook registers fn to receive a snapshot of every evicted job.
func (r *Registry) SetEvictionHook(fn func(Job)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

func (r *Registry) Insert(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	r.entries[job.ID] = &entry{
		job:     job.Clone(),
		changed: make(chan struct{}),
	}
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job.Clone(), nil
}

// Update atomically applies fn to a copy of the job and stores the result
// when fn returns nil. If fn returns SkipUpdate nothing is stored and the
// current snapshot is returned along with SkipUpdate; any other error
// aborts the update and is returned.
func (r *Registry) Update(id string, fn func(*Job) error) (Job, error) {
	return r.commit(id, fn, nil)
}

// UpdateWithArtifact is Update that also attaches artifact on commit.
func (r *Registry) UpdateWithArtifact(id string, artifact *Artifact, fn func(*Job) error) (Job, error) {
	return r.commit(id, fn, artifact)
}

func (r *Registry) commit(id string, fn func(*Job) error, artifact *Artifact) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	next := e.job.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, SkipUpdate) {
			return e.job.Clone(), err
		}
		return Job{}, err
	}
	next.ID = e.job.ID
	e.job = next
	if artifact != nil {
		e.artifact = artifact
	}
	e.notify()
	return e.job.Clone(), nil
}

// Artifact returns a copy of the job's artifact, if any, with a snapshot
// of the job taken under the same lock.
func (r *Registry) Artifact(id string) (*Artifact, Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.artifact.Clone(), e.job.Clone(), nil
}

// Watch returns the current snapshot and a channel that is closed on the
// next change to the job, including its eviction.
func (r *Registry) Watch(id string) (Job, <-chan struct{}, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Job{}, nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job.Clone(), e.changed, nil
}

// List returns snapshots of matching jobs in submission order.
func (r *Registry) List(filter JobFilter) []Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && filter.matches(&e.job) {
			jobs = append(jobs, e.job.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

func (r *Registry) Stats() JobStats {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var stats JobStats
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			stats.add(e.job.State)
		}
		e.mu.Unlock()
	}
	return stats
}

// Remove evicts a terminal job immediately.
func (r *Registry) Remove(id string) (Job, error) {
	var state JobState
	evicted, hook := r.evict(func(j *Job) bool {
		if j.ID != id {
			return false
		}
		state = j.State
		return j.State.Terminal()
	})
	if len(evicted) == 0 {
		if state == "" {
			return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return Job{}, transitionError(id, state, "remove")
	}
	runHook(hook, evicted)
	return evicted[0], nil
}

// Sweep evicts terminal jobs that finished more than the retention window
// before now.
func (r *Registry) Sweep(now time.Time) []Job {
	if r.retention <= 0 {
		return nil
	}
	cutoff := now.Add(-r.retention)
	evicted, hook := r.evict(func(j *Job) bool {
		return j.State.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff)
	})
	runHook(hook, evicted)
	return evicted
}

// EvictSuperseded evicts terminal jobs of modelID other than keepID.
func (r *Registry) EvictSuperseded(modelID, keepID string) []Job {
	evicted, hook := r.evict(func(j *Job) bool {
		return j.ModelID == modelID && j.ID != keepID && j.State.Terminal()
	})
	runHook(hook, evicted)
	return evicted
}

func (r *Registry) evict(match func(*Job) bool) ([]Job, func(Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Job
	for id, e := range r.entries {
		e.mu.Lock()
		if match(&e.job) {
			e.removed = true
			e.artifact = nil
			e.notify()
			evicted = append(evicted, e.job.Clone())
			delete(r.entries, id)
		}
		e.mu.Unlock()
	}
	return evicted, r.onEvict
}

func runHook(hook func(Job), jobs []Job) {
	if hook == nil {
		return
	}
	for _, j := range jobs {
		hook(j)
	}
}
