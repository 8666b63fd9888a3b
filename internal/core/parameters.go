package core

import (
	"fmt"
	"math"
	"strconv"
)

// ParameterInput is an unvalidated parameter record as received from a
// client or read from configuration. Pointer fields distinguish "absent"
// from the zero value.
type ParameterInput struct {
	LayerHeight        *float64 `json:"layer_height,omitempty" yaml:"layer_height,omitempty"`
	InfillDensity      *float64 `json:"infill_density,omitempty" yaml:"infill_density,omitempty"`
	PrintSpeed         *float64 `json:"print_speed,omitempty" yaml:"print_speed,omitempty"`
	WallThickness      *float64 `json:"wall_thickness,omitempty" yaml:"wall_thickness,omitempty"`
	TopBottomThickness *float64 `json:"top_bottom_thickness,omitempty" yaml:"top_bottom_thickness,omitempty"`
	NozzleTemperature  *float64 `json:"nozzle_temperature,omitempty" yaml:"nozzle_temperature,omitempty"`
	BedTemperature     *float64 `json:"bed_temperature,omitempty" yaml:"bed_temperature,omitempty"`
	SupportEnabled     *bool    `json:"support_enabled,omitempty" yaml:"support_enabled,omitempty"`
	SupportDensity     *float64 `json:"support_density,omitempty" yaml:"support_density,omitempty"`
	RetractionEnabled  *bool    `json:"retraction_enabled,omitempty" yaml:"retraction_enabled,omitempty"`
	RetractionDistance *float64 `json:"retraction_distance,omitempty" yaml:"retraction_distance,omitempty"`
	RetractionSpeed    *float64 `json:"retraction_speed,omitempty" yaml:"retraction_speed,omitempty"`
}

// ParameterSet is a validated slicing configuration. Values are only ever
// produced by Validate; the optional fields are nil when their enabling
// flag is off and the client omitted them.
type ParameterSet struct {
	LayerHeight        float64  `json:"layer_height"`
	InfillDensity      float64  `json:"infill_density"`
	PrintSpeed         float64  `json:"print_speed"`
	WallThickness      float64  `json:"wall_thickness"`
	TopBottomThickness float64  `json:"top_bottom_thickness"`
	NozzleTemperature  float64  `json:"nozzle_temperature"`
	BedTemperature     float64  `json:"bed_temperature"`
	SupportEnabled     bool     `json:"support_enabled"`
	SupportDensity     *float64 `json:"support_density,omitempty"`
	RetractionEnabled  bool     `json:"retraction_enabled"`
	RetractionDistance *float64 `json:"retraction_distance,omitempty"`
	RetractionSpeed    *float64 `json:"retraction_speed,omitempty"`
}

// Range is an inclusive interval, used for parameter bounds and model
// extents alike.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Field names as they appear on the wire.
const (
	FieldLayerHeight        = "layer_height"
	FieldInfillDensity      = "infill_density"
	FieldPrintSpeed         = "print_speed"
	FieldWallThickness      = "wall_thickness"
	FieldTopBottomThickness = "top_bottom_thickness"
	FieldNozzleTemperature  = "nozzle_temperature"
	FieldBedTemperature     = "bed_temperature"
	FieldSupportEnabled     = "support_enabled"
	FieldSupportDensity     = "support_density"
	FieldRetractionEnabled  = "retraction_enabled"
	FieldRetractionDistance = "retraction_distance"
	FieldRetractionSpeed    = "retraction_speed"
)

// ParameterRanges lists the accepted range of every numeric field.
var ParameterRanges = map[string]Range{
	FieldLayerHeight:        {0.05, 0.4},
	FieldInfillDensity:      {0, 100},
	FieldPrintSpeed:         {10, 150},
	FieldWallThickness:      {0.4, 5.0},
	FieldTopBottomThickness: {0.4, 5.0},
	FieldNozzleTemperature:  {180, 300},
	FieldBedTemperature:     {0, 120},
	FieldSupportDensity:     {5, 50},
	FieldRetractionDistance: {0, 10},
	FieldRetractionSpeed:    {10, 100},
}

// ValidationError reports the first parameter that failed validation.
type ValidationError struct {
	Field string   `json:"field"`
	Value *float64 `json:"value,omitempty"`
	Bound string   `json:"bound"`
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid parameters: %s is %s", e.Field, e.Bound)
	}
	return fmt.Sprintf("invalid parameters: %s=%s violates %s", e.Field, formatFloat(*e.Value), e.Bound)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Bound: "required"}
}

func checkRange(field string, v float64) *ValidationError {
	r := ParameterRanges[field]
	value := v
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return &ValidationError{Field: field, Value: &value, Bound: "finite number"}
	case v < r.Min:
		return &ValidationError{Field: field, Value: &value, Bound: fmt.Sprintf("min %s", formatFloat(r.Min))}
	case v > r.Max:
		return &ValidationError{Field: field, Value: &value, Bound: fmt.Sprintf("max %s", formatFloat(r.Max))}
	}
	return nil
}

func requireNumber(field string, p *float64) (float64, *ValidationError) {
	if p == nil {
		return 0, missing(field)
	}
	if err := checkRange(field, *p); err != nil {
		return 0, err
	}
	return *p, nil
}

// conditional validates a field that is required only while enabled is
// true. A disabled field may still be supplied, in which case it must be
// in range so a ParameterSet never carries an out-of-range value.
func conditional(field string, p *float64, enabled bool) (*float64, *ValidationError) {
	if p == nil {
		if enabled {
			return nil, missing(field)
		}
		return nil, nil
	}
	if err := checkRange(field, *p); err != nil {
		return nil, err
	}
	v := *p
	return &v, nil
}

// Validate checks raw against the parameter table in declaration order and
// returns the validated set or the first violation.
func Validate(raw ParameterInput) (ParameterSet, error) {
	var ps ParameterSet
	var verr *ValidationError

	numbers := []struct {
		field string
		in    *float64
		out   *float64
	}{
		{FieldLayerHeight, raw.LayerHeight, &ps.LayerHeight},
		{FieldInfillDensity, raw.InfillDensity, &ps.InfillDensity},
		{FieldPrintSpeed, raw.PrintSpeed, &ps.PrintSpeed},
		{FieldWallThickness, raw.WallThickness, &ps.WallThickness},
		{FieldTopBottomThickness, raw.TopBottomThickness, &ps.TopBottomThickness},
		{FieldNozzleTemperature, raw.NozzleTemperature, &ps.NozzleTemperature},
		{FieldBedTemperature, raw.BedTemperature, &ps.BedTemperature},
	}
	for _, n := range numbers {
		if *n.out, verr = requireNumber(n.field, n.in); verr != nil {
			return ParameterSet{}, verr
		}
	}

	if raw.SupportEnabled == nil {
		return ParameterSet{}, missing(FieldSupportEnabled)
	}
	ps.SupportEnabled = *raw.SupportEnabled
	if ps.SupportDensity, verr = conditional(FieldSupportDensity, raw.SupportDensity, ps.SupportEnabled); verr != nil {
		return ParameterSet{}, verr
	}

	if raw.RetractionEnabled == nil {
		return ParameterSet{}, missing(FieldRetractionEnabled)
	}
	ps.RetractionEnabled = *raw.RetractionEnabled
	if ps.RetractionDistance, verr = conditional(FieldRetractionDistance, raw.RetractionDistance, ps.RetractionEnabled); verr != nil {
		return ParameterSet{}, verr
	}
	if ps.RetractionSpeed, verr = conditional(FieldRetractionSpeed, raw.RetractionSpeed, ps.RetractionEnabled); verr != nil {
		return ParameterSet{}, verr
	}

	return ps, nil
}

// Clone returns a deep copy so callers never share the optional fields.
func (p ParameterSet) Clone() ParameterSet {
	cp := p
	cp.SupportDensity = clonePtr(p.SupportDensity)
	cp.RetractionDistance = clonePtr(p.RetractionDistance)
	cp.RetractionSpeed = clonePtr(p.RetractionSpeed)
	return cp
}

// Input converts the set back into a raw record, e.g. to pre-populate a
// working copy from a profile.
func (p ParameterSet) Input() ParameterInput {
	return ParameterInput{
		LayerHeight:        ptr(p.LayerHeight),
		InfillDensity:      ptr(p.InfillDensity),
		PrintSpeed:         ptr(p.PrintSpeed),
		WallThickness:      ptr(p.WallThickness),
		TopBottomThickness: ptr(p.TopBottomThickness),
		NozzleTemperature:  ptr(p.NozzleTemperature),
		BedTemperature:     ptr(p.BedTemperature),
		SupportEnabled:     ptr(p.SupportEnabled),
		SupportDensity:     clonePtr(p.SupportDensity),
		RetractionEnabled:  ptr(p.RetractionEnabled),
		RetractionDistance: clonePtr(p.RetractionDistance),
		RetractionSpeed:    clonePtr(p.RetractionSpeed),
	}
}

// SupportDensityOr returns the support density or def when unset.
func (p ParameterSet) SupportDensityOr(def float64) float64 {
	if p.SupportDensity == nil {
		return def
	}
	return *p.SupportDensity
}

// RetractionDistanceOr returns the retraction distance or def when unset.
func (p ParameterSet) RetractionDistanceOr(def float64) float64 {
	if p.RetractionDistance == nil {
		return def
	}
	return *p.RetractionDistance
}

// RetractionSpeedOr returns the retraction speed or def when unset.
func (p ParameterSet) RetractionSpeedOr(def float64) float64 {
	if p.RetractionSpeed == nil {
		return def
	}
	return *p.RetractionSpeed
}

func ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// WithDefaults returns a copy of in where every absent field is taken from
// base. Used for partial requests such as print estimates.
func (in ParameterInput) WithDefaults(base ParameterInput) ParameterInput {
	out := in
	fill := func(dst **float64, src *float64) {
		if *dst == nil {
			*dst = clonePtr(src)
		}
	}
	fill(&out.LayerHeight, base.LayerHeight)
	fill(&out.InfillDensity, base.InfillDensity)
	fill(&out.PrintSpeed, base.PrintSpeed)
	fill(&out.WallThickness, base.WallThickness)
	fill(&out.TopBottomThickness, base.TopBottomThickness)
	fill(&out.NozzleTemperature, base.NozzleTemperature)
	fill(&out.BedTemperature, base.BedTemperature)
	fill(&out.SupportDensity, base.SupportDensity)
	fill(&out.RetractionDistance, base.RetractionDistance)
	fill(&out.RetractionSpeed, base.RetractionSpeed)
	if out.SupportEnabled == nil {
		out.SupportEnabled = clonePtr(base.SupportEnabled)
	}
	if out.RetractionEnabled == nil {
		out.RetractionEnabled = clonePtr(base.RetractionEnabled)
	}
	return out
}
