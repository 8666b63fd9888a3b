package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Limits on a single layer plan. A model inside any sane build volume stays
// well below both.
const (
	MaxPlanLayers     = 20000
	MaxPlanLayerLines = 5000
)

var ErrPlanTooLarge = errors.New("layer plan too large")

// checkPlan rejects plans whose layer or per-layer line count exceeds the
// limits. Counts are compared as floats so huge or non-finite bounds cannot
// overflow.
func checkPlan(m Model, p ParameterSet) error {
	dx, dy, dz := m.Bounds.Size()
	layers := dz / p.LayerHeight
	lines := math.Max(dx, dy) / LineWidth
	if !(layers <= MaxPlanLayers) || !(lines <= MaxPlanLayerLines) {
		return fmt.Errorf("%w: %.0f layers of up to %.0f lines (limits %d and %d)",
			ErrPlanTooLarge, layers, lines, MaxPlanLayers, MaxPlanLayerLines)
	}
	return nil
}

// LayerPlanSlicer is the built-in backend. It plans every layer over the
// model footprint, which is enough to drive the whole job lifecycle and
// produce printable calibration G-code without a geometry kernel.
type LayerPlanSlicer struct {
	layerDelay time.Duration
}

// NewLayerPlanSlicer returns a slicer that pauses layerDelay after each
// layer, which keeps progress observable on small models.
func NewLayerPlanSlicer(layerDelay time.Duration) *LayerPlanSlicer {
	return &LayerPlanSlicer{layerDelay: layerDelay}
}

// EstimateSeconds predicts the slicing time, not the print time.
func (s *LayerPlanSlicer) EstimateSeconds(m Model, p ParameterSet) int {
	perLayer := math.Max(s.layerDelay.Seconds(), 0.005)
	return int(math.Max(1, math.Ceil(float64(LayerCount(m, p))*perLayer)))
}

func (s *LayerPlanSlicer) Slice(ctx context.Context, req SliceRequest, r Reporter) (*Artifact, error) {
	m, p := req.Model, req.Parameters
	if err := checkPlan(m, p); err != nil {
		return nil, err
	}
	gen := NewGCodeGenerator()
	layers := LayerCount(m, p)

	var sb strings.Builder
	sb.WriteString(gen.Header(m, p, layers, time.Now()))

	start := time.Now()
	for i := 0; i < layers; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sb.WriteString(gen.Layer(i, layers, m, p))

		done := i + 1
		percent := float64(done) / float64(layers) * 95
		elapsed := time.Since(start)
		eta := int(math.Ceil((elapsed.Seconds() / float64(done)) * float64(layers-done)))
		r.Report(Progress{Percent: percent, Message: StageMessage(percent), ETASeconds: &eta})

		if s.layerDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.layerDelay):
			}
		}
	}

	r.Report(Progress{Percent: 99, Message: StageMessage(99)})
	sb.WriteString(gen.Footer())

	return NewArtifact([]byte(sb.String())), nil
}
