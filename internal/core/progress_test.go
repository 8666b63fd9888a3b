package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/core"
)

func TestStageMessage(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{0, "Initializing slicer..."},
		{9.9, "Initializing slicer..."},
		{10, "Analyzing model geometry..."},
		{30, "Generating support structures..."},
		{40, "Generating support structures..."},
		{50, "Creating layer paths..."},
		{70, "Optimizing toolpaths..."},
		{95, "Finalizing G-code..."},
		{100, "Slicing completed!"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, core.StageMessage(tt.percent), "percent %v", tt.percent)
	}
}

func TestProgressSampler(t *testing.T) {
	s := core.NewProgressSampler(10)

	require.True(t, s.ShouldLog(0, "Initializing slicer..."))
	require.False(t, s.ShouldLog(3, "Initializing slicer..."))
	require.True(t, s.ShouldLog(12, "Initializing slicer..."))
	require.False(t, s.ShouldLog(15, ""))
	require.True(t, s.ShouldLog(16, "Analyzing model geometry..."))
	require.True(t, s.ShouldLog(100, ""))
	require.False(t, s.ShouldLog(100, ""))

	var nilSampler *core.ProgressSampler
	require.True(t, nilSampler.ShouldLog(1, "x"))
}
