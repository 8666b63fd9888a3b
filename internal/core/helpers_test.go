package core_test

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/orrn/slicer/internal/core"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticModels map[string]core.Model

func (s staticModels) Get(id string) (core.Model, error) {
	m, ok := s[id]
	if !ok {
		return core.Model{}, fmt.Errorf("%w: %s", core.ErrModelNotFound, id)
	}
	return m, nil
}

func testModel(id string) core.Model {
	return core.Model{
		ID:       id,
		Filename: id + ".stl",
		FileSize: 684,
		Format:   "stl",
		Bounds: core.Bounds{
			X: core.Range{Min: 0, Max: 20},
			Y: core.Range{Min: -5, Max: 5},
			Z: core.Range{Min: 0, Max: 2},
		},
		UploadedAt: time.Now().UTC(),
	}
}

func validInput() core.ParameterInput {
	return core.DefaultProfiles()[0].Parameters
}

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool     { return &v }

type recordingSink struct {
	mu     sync.Mutex
	events []core.JobEvent
}

func (s *recordingSink) SendJobEvent(ev core.JobEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Event
	}
	return out
}

func newManualEngine(t *testing.T, cfg core.EngineConfig, sink core.EventSink) *core.Engine {
	t.Helper()
	models := staticModels{"m1": testModel("m1"), "m2": testModel("m2")}
	return core.NewEngine(cfg, models, nil, sink, discard)
}
