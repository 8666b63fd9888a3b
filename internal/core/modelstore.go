package core

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/slicer/internal/mesh"
)

// DefaultMaxModelSize is used when the store is built without a limit.
const DefaultMaxModelSize = 50 << 20

// ModelPersister writes model metadata through to durable storage.
type ModelPersister interface {
	SaveModel(m Model) error
	DeleteModel(id string) error
}

// ModelStore holds uploaded model metadata. Reads vastly outnumber writes.
type ModelStore struct {
	mu        sync.RWMutex
	models    map[string]Model
	dir       string
	maxSize   int64
	volume    BuildVolume
	persister ModelPersister
	logger    *slog.Logger
}

func NewModelStore(dir string, maxSize int64, persister ModelPersister, logger *slog.Logger) *ModelStore {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxModelSize
	}
	return &ModelStore{
		models:    make(map[string]Model),
		dir:       dir,
		maxSize:   maxSize,
		volume:    DefaultBuildVolume,
		persister: persister,
		logger:    logger.With("component", "models"),
	}
}

// MaxSize is the largest accepted upload in bytes.
func (s *ModelStore) MaxSize() int64 {
	return s.maxSize
}

// SetBuildVolume replaces the extent Import accepts. Invalid volumes are
// ignored.
func (s *ModelStore) SetBuildVolume(v BuildVolume) {
	if !v.Valid() {
		return
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// Load repopulates the store, typically from the database at startup.
// Models with invalid bounds are skipped.
func (s *ModelStore) Load(models ...Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range models {
		if m.ID == "" || !m.Bounds.Valid() {
			s.logger.Warn("skipping invalid stored model", "model_id", m.ID)
			continue
		}
		s.models[m.ID] = m
	}
}

func (s *ModelStore) Add(m Model) error {
	if m.ID == "" {
		return fmt.Errorf("model id is required")
	}
	if !m.Bounds.Valid() {
		return fmt.Errorf("model %s: bounds max must not be below min", m.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[m.ID]; exists {
		return fmt.Errorf("model %s already exists", m.ID)
	}
	if s.persister != nil {
		if err := s.persister.SaveModel(m); err != nil {
			return fmt.Errorf("failed to persist model: %w", err)
		}
	}
	s.models[m.ID] = m
	return nil
}

func (s *ModelStore) Get(id string) (Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// List returns all models, newest first.
func (s *ModelStore) List() []Model {
	s.mu.RLock()
	out := make([]Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}

// Delete removes the model metadata and its stored file.
func (s *ModelStore) Delete(id string) error {
	s.mu.Lock()
	m, ok := s.models[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if s.persister != nil {
		if err := s.persister.DeleteModel(id); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to delete model record: %w", err)
		}
	}
	delete(s.models, id)
	s.mu.Unlock()

	if m.Path != "" {
		if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove model file", "model_id", id, "path", m.Path, "error", err)
		}
	}
	return nil
}

// Import reads an uploaded mesh, measures it and stores both the file and
// its metadata. Client-side problems are reported by wrapping
// mesh.ErrUnsupportedFormat, mesh.ErrEmptyMesh, mesh.ErrMalformedMesh,
// ErrFileTooLarge or ErrModelTooLarge.
func (s *ModelStore) Import(filename string, r io.Reader) (Model, error) {
	filename = filepath.Base(filename)
	format, err := mesh.FormatFor(filename)
	if err != nil {
		return Model{}, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return Model{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return Model{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.maxSize)
	}

	summary, err := mesh.Parse(filename, bytes.NewReader(data))
	if err != nil {
		return Model{}, err
	}

	m := Model{
		ID:        uuid.New().String(),
		Filename:  filename,
		FileSize:  int64(len(data)),
		Format:    format,
		Triangles: summary.Triangles,
		Bounds: Bounds{
			X: Range{Min: summary.Bounds.Min[0], Max: summary.Bounds.Max[0]},
			Y: Range{Min: summary.Bounds.Min[1], Max: summary.Bounds.Max[1]},
			Z: Range{Min: summary.Bounds.Min[2], Max: summary.Bounds.Max[2]},
		},
		UploadedAt: time.Now().UTC(),
	}

	s.mu.RLock()
	volume := s.volume
	s.mu.RUnlock()
	if err := volume.Check(m.Bounds); err != nil {
		return Model{}, err
	}

	if s.dir != "" {
		path, err := s.writeFile(m.ID+"."+format, data)
		if err != nil {
			return Model{}, err
		}
		m.Path = path
	}

	if err := s.Add(m); err != nil {
		if m.Path != "" {
			os.Remove(m.Path)
		}
		return Model{}, err
	}

	s.logger.Info("model imported",
		"model_id", m.ID,
		"filename", m.Filename,
		"bytes", m.FileSize,
		"triangles", m.Triangles,
	)
	return m, nil
}

func (s *ModelStore) writeFile(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create model file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write model file: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store model file: %w", err)
	}
	return path, nil
}
