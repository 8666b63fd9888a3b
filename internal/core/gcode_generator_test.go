package core_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/core"
)

func params(t *testing.T, mutate func(in *core.ParameterInput)) core.ParameterSet {
	t.Helper()
	in := validInput()
	if mutate != nil {
		mutate(&in)
	}
	ps, err := core.Validate(in)
	require.NoError(t, err)
	return ps
}

func TestGCodeGenerate(t *testing.T) {
	m := testModel("m1")
	p := params(t, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	out := core.NewGCodeGenerator().Generate(m, p, now)

	require.True(t, strings.HasPrefix(out, "; Generated by slicerd layer planner\n; Date: 2024-05-01T12:00:00Z\n"))
	require.Contains(t, out, "; Layer Height: 0.20mm")
	require.Contains(t, out, "; Infill: 20%")
	require.Contains(t, out, "M104 S200 ; set nozzle temp")
	require.Contains(t, out, "M190 S60 ; wait for bed temp")
	require.Contains(t, out, "G28 ; home all axes")
	require.Equal(t, 10, strings.Count(out, "; LAYER "))
	require.Contains(t, out, "; LAYER 10\n")
	// retraction between layers only
	require.Equal(t, 9, strings.Count(out, "; retract\n"))
	require.Contains(t, out, ";TYPE:SOLID-FILL")
	require.Contains(t, out, ";TYPE:FILL")
	require.True(t, strings.HasSuffix(out, "M84 ; disable motors\n"))

	// deterministic for a fixed clock
	require.Equal(t, out, core.NewGCodeGenerator().Generate(m, p, now))
}

func TestGCodeWithoutRetractionOrInfill(t *testing.T) {
	p := params(t, func(in *core.ParameterInput) {
		in.RetractionEnabled = boolp(false)
		in.InfillDensity = f64(0)
	})
	out := core.NewGCodeGenerator().Generate(testModel("m1"), p, time.Now())
	require.NotContains(t, out, "; retract")
	require.NotContains(t, out, ";TYPE:FILL\n")
}

func TestLayerCount(t *testing.T) {
	m := testModel("m1")
	require.Equal(t, 10, core.LayerCount(m, params(t, nil)))
	require.Equal(t, 7, core.LayerCount(m, params(t, func(in *core.ParameterInput) { in.LayerHeight = f64(0.3) })))

	flat := testModel("flat")
	flat.Bounds.Z = core.Range{}
	require.Equal(t, 1, core.LayerCount(flat, params(t, nil)))
}

func TestLayerPlanSlicerReportsProgress(t *testing.T) {
	s := core.NewLayerPlanSlicer(0)
	var reports []core.Progress
	art, err := s.Slice(context.Background(), core.SliceRequest{
		JobID:      "j",
		Model:      testModel("m1"),
		Parameters: params(t, nil),
	}, core.ReporterFunc(func(p core.Progress) { reports = append(reports, p) }))
	require.NoError(t, err)
	require.Equal(t, int64(len(art.Data)), art.Size)
	require.False(t, art.GeneratedAt.IsZero())

	require.Len(t, reports, 11)
	for i := 1; i < len(reports); i++ {
		require.GreaterOrEqual(t, reports[i].Percent, reports[i-1].Percent)
	}
	require.Equal(t, "Finalizing G-code...", reports[len(reports)-1].Message)
	require.NotNil(t, reports[0].ETASeconds)

	require.GreaterOrEqual(t, s.EstimateSeconds(testModel("m1"), params(t, nil)), 1)
}

func TestLayerPlanSlicerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := core.NewLayerPlanSlicer(time.Hour).Slice(ctx, core.SliceRequest{
		Model:      testModel("m1"),
		Parameters: params(t, nil),
	}, core.ReporterFunc(func(core.Progress) {}))
	require.ErrorIs(t, err, context.Canceled)
}

func TestEstimatePrint(t *testing.T) {
	m := testModel("m1")
	base := core.EstimatePrint(m, params(t, nil))
	require.Greater(t, base.Minutes, 0.0)
	require.Greater(t, base.FilamentLengthMM, 0.0)
	require.Greater(t, base.FilamentWeightG, 0.0)

	dense := core.EstimatePrint(m, params(t, func(in *core.ParameterInput) { in.InfillDensity = f64(100) }))
	require.Greater(t, dense.FilamentWeightG, base.FilamentWeightG)

	fast := core.EstimatePrint(m, params(t, func(in *core.ParameterInput) { in.PrintSpeed = f64(150) }))
	require.Less(t, fast.Minutes, base.Minutes)

	require.Equal(t, base, core.EstimatePrint(m, params(t, nil)))
}

func TestLayerPlanSlicerRejectsOversizedPlan(t *testing.T) {
	tests := []struct {
		name   string
		bounds core.Bounds
	}{
		{"too many layers", core.Bounds{X: core.Range{Max: 10}, Y: core.Range{Max: 10}, Z: core.Range{Max: 100000}}},
		{"too many lines", core.Bounds{X: core.Range{Max: 1e17}, Y: core.Range{Max: 10}, Z: core.Range{Max: 1}}},
		{"infinite", core.Bounds{X: core.Range{Max: math.Inf(1)}, Y: core.Range{Max: 10}, Z: core.Range{Max: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testModel("big")
			m.Bounds = tt.bounds
			var reports int
			_, err := core.NewLayerPlanSlicer(0).Slice(context.Background(), core.SliceRequest{
				Model:      m,
				Parameters: params(t, nil),
			}, core.ReporterFunc(func(core.Progress) { reports++ }))
			require.ErrorIs(t, err, core.ErrPlanTooLarge)
			require.Zero(t, reports)
		})
	}
}

func TestGCodeFillLineCount(t *testing.T) {
	m := testModel("m1")
	m.Bounds.X = core.Range{Min: 0, Max: 10}
	m.Bounds.Y = core.Range{Min: 0, Max: 10}
	m.Bounds.Z = core.Range{Min: 0, Max: 0.2}
	p := params(t, func(in *core.ParameterInput) {
		in.WallThickness = f64(0.4)
		in.RetractionEnabled = boolp(false)
	})

	// one perimeter travel, then a 10mm footprint inset by one wall leaves
	// 9.2mm of solid fill at line width spacing
	out := core.NewGCodeGenerator().Generate(m, p, time.Now())
	require.Equal(t, 1+23, strings.Count(out, "\nG0 X"))
}
