package core

import (
	"math"
)

// Filament and machine constants used by estimates and generated G-code.
const (
	FilamentDiameter = 1.75 // mm
	FilamentDensity  = 1.24 // g/cm³, PLA
	LineWidth        = 0.4  // mm, nozzle diameter
	travelOverhead   = 1.15
	layerChangeSecs  = 2.0
	supportFraction  = 0.15
)

type PrintEstimate struct {
	Minutes          float64 `json:"estimated_time_minutes"`
	FilamentLengthMM float64 `json:"estimated_filament_length_mm"`
	FilamentWeightG  float64 `json:"estimated_filament_weight_g"`
}

// LayerCount returns the number of layers needed to cover the model height.
func LayerCount(m Model, p ParameterSet) int {
	_, _, h := m.Bounds.Size()
	if h <= 0 || p.LayerHeight <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(h/p.LayerHeight-1e-9)))
}

// FilamentArea is the cross-section of the filament in mm².
func FilamentArea() float64 {
	r := FilamentDiameter / 2
	return math.Pi * r * r
}

// materialVolume approximates the extruded volume in mm³ from the bounding
// box: solid walls and top/bottom skins plus sparse infill inside.
func materialVolume(m Model, p ParameterSet) float64 {
	dx, dy, dz := m.Bounds.Size()
	box := dx * dy * dz
	walls := 2 * (dx + dy) * dz * p.WallThickness
	skins := 2 * dx * dy * p.TopBottomThickness
	shell := math.Min(box, walls+skins)
	inner := math.Max(0, box-shell)

	volume := shell + inner*p.InfillDensity/100
	if p.SupportEnabled {
		volume += box * supportFraction * p.SupportDensityOr(0) / 100
	}
	return volume
}

// EstimatePrint predicts print time and filament use without slicing.
func EstimatePrint(m Model, p ParameterSet) PrintEstimate {
	volume := materialVolume(m, p)
	length := volume / FilamentArea()
	weight := volume / 1000 * FilamentDensity

	path := volume / (LineWidth * p.LayerHeight)
	seconds := path/p.PrintSpeed*travelOverhead + float64(LayerCount(m, p))*layerChangeSecs

	return PrintEstimate{
		Minutes:          round1(seconds / 60),
		FilamentLengthMM: round1(length),
		FilamentWeightG:  round1(weight),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
