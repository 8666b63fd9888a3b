package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// bedMargin offsets the model footprint from the bed origin.
const bedMargin = 10.0

// GCodeGenerator renders a layer plan as Marlin-flavoured G-code. The plan
// covers the model footprint only: perimeter loops, sparse or solid infill
// and retraction between layers.
type GCodeGenerator struct {
	extruded float64
}

func NewGCodeGenerator() *GCodeGenerator {
	return &GCodeGenerator{}
}

type footprint struct {
	minX, minY, maxX, maxY float64
}

func footprintOf(m Model) footprint {
	dx, dy, _ := m.Bounds.Size()
	return footprint{
		minX: bedMargin,
		minY: bedMargin,
		maxX: bedMargin + dx,
		maxY: bedMargin + dy,
	}
}

func (f footprint) inset(d float64) (footprint, bool) {
	in := footprint{f.minX + d, f.minY + d, f.maxX - d, f.maxY - d}
	return in, in.maxX > in.minX && in.maxY > in.minY
}

func (g *GCodeGenerator) extrusionFor(length, layerHeight float64) float64 {
	return length * LineWidth * layerHeight / FilamentArea()
}

func (g *GCodeGenerator) Header(m Model, p ParameterSet, layers int, now time.Time) string {
	var sb strings.Builder
	est := EstimatePrint(m, p)

	sb.WriteString("; Generated by slicerd layer planner\n")
	sb.WriteString(fmt.Sprintf("; Date: %s\n", now.UTC().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("; Model: %s\n", m.Filename))
	sb.WriteString(fmt.Sprintf("; Layer Height: %.2fmm\n", p.LayerHeight))
	sb.WriteString(fmt.Sprintf("; Layers: %d\n", layers))
	sb.WriteString(fmt.Sprintf("; Infill: %.0f%%\n", p.InfillDensity))
	sb.WriteString(fmt.Sprintf("; Wall Thickness: %.2fmm\n", p.WallThickness))
	if p.SupportEnabled {
		sb.WriteString(fmt.Sprintf("; Support: %.0f%%\n", p.SupportDensityOr(0)))
	} else {
		sb.WriteString("; Support: off\n")
	}
	sb.WriteString(fmt.Sprintf("; Estimated print time: %.1f min\n", est.Minutes))
	sb.WriteString(fmt.Sprintf("; Estimated filament: %.1fmm %.1fg\n", est.FilamentLengthMM, est.FilamentWeightG))
	sb.WriteString("\n")

	sb.WriteString("G21 ; set units to millimeters\n")
	sb.WriteString("G90 ; use absolute coordinates\n")
	sb.WriteString("M82 ; use absolute distances for extrusion\n")
	sb.WriteString(fmt.Sprintf("M104 S%.0f ; set nozzle temp\n", p.NozzleTemperature))
	sb.WriteString(fmt.Sprintf("M140 S%.0f ; set bed temp\n", p.BedTemperature))
	sb.WriteString(fmt.Sprintf("M109 S%.0f ; wait for nozzle temp\n", p.NozzleTemperature))
	sb.WriteString(fmt.Sprintf("M190 S%.0f ; wait for bed temp\n", p.BedTemperature))
	sb.WriteString("G28 ; home all axes\n")
	sb.WriteString("G92 E0 ; reset extruder\n")
	sb.WriteString("G1 Z5 F5000 ; lift nozzle\n")

	g.extruded = 0
	return sb.String()
}

// Layer renders layer index (zero based) of a plan with total layers.
func (g *GCodeGenerator) Layer(index, total int, m Model, p ParameterSet) string {
	var sb strings.Builder
	z := float64(index+1) * p.LayerHeight
	feed := p.PrintSpeed * 60

	sb.WriteString(fmt.Sprintf("\n; LAYER %d\n", index+1))
	if index > 0 && p.RetractionEnabled {
		sb.WriteString(g.retract(p))
	}
	sb.WriteString(fmt.Sprintf("G0 Z%.3f F5000\n", z))

	outer := footprintOf(m)
	walls := int(math.Max(1, math.Round(p.WallThickness/LineWidth)))
	for w := 0; w < walls; w++ {
		loop, ok := outer.inset(float64(w) * LineWidth)
		if !ok {
			break
		}
		sb.WriteString(g.perimeter(loop, p.LayerHeight, feed))
	}

	inner, ok := outer.inset(float64(walls) * LineWidth)
	if !ok {
		return sb.String()
	}

	skinLayers := int(math.Ceil(p.TopBottomThickness/p.LayerHeight - 1e-9))
	if index < skinLayers || index >= total-skinLayers {
		sb.WriteString(";TYPE:SOLID-FILL\n")
		sb.WriteString(g.fill(inner, LineWidth, index%2 == 1, p.LayerHeight, feed))
	} else if p.InfillDensity > 0 {
		sb.WriteString(";TYPE:FILL\n")
		spacing := LineWidth * 100 / p.InfillDensity
		sb.WriteString(g.fill(inner, spacing, index%2 == 1, p.LayerHeight, feed))
	}
	return sb.String()
}

func (g *GCodeGenerator) Footer() string {
	var sb strings.Builder
	sb.WriteString("\n; END\n")
	sb.WriteString("M104 S0 ; turn off nozzle\n")
	sb.WriteString("M140 S0 ; turn off bed\n")
	sb.WriteString("G28 X0 Y0 ; home X and Y\n")
	sb.WriteString("M84 ; disable motors\n")
	return sb.String()
}

func (g *GCodeGenerator) retract(p ParameterSet) string {
	dist := p.RetractionDistanceOr(0)
	if dist <= 0 {
		return ""
	}
	feed := p.RetractionSpeedOr(45) * 60
	return fmt.Sprintf("G1 E%.5f F%.0f ; retract\nG1 E%.5f F%.0f ; unretract\n",
		g.extruded-dist, feed, g.extruded, feed)
}

func (g *GCodeGenerator) perimeter(f footprint, layerHeight, feed float64) string {
	var sb strings.Builder
	corners := [][2]float64{
		{f.maxX, f.minY},
		{f.maxX, f.maxY},
		{f.minX, f.maxY},
		{f.minX, f.minY},
	}
	sb.WriteString(";TYPE:WALL\n")
	sb.WriteString(fmt.Sprintf("G0 X%.3f Y%.3f\n", f.minX, f.minY))
	x, y := f.minX, f.minY
	for _, c := range corners {
		g.extruded += g.extrusionFor(math.Hypot(c[0]-x, c[1]-y), layerHeight)
		sb.WriteString(fmt.Sprintf("G1 X%.3f Y%.3f E%.5f F%.0f\n", c[0], c[1], g.extruded, feed))
		x, y = c[0], c[1]
	}
	return sb.String()
}

// fill draws a zigzag of parallel lines across f, along X or, when
// vertical is set, along Y.
func (g *GCodeGenerator) fill(f footprint, spacing float64, vertical bool, layerHeight, feed float64) string {
	var sb strings.Builder
	lo, hi := f.minY, f.maxY
	if vertical {
		lo, hi = f.minX, f.maxX
	}
	lines := int(math.Ceil((hi-lo)/spacing - 0.5))
	forward := true
	for k := 0; k < lines; k++ {
		c := lo + spacing/2 + float64(k)*spacing
		var x0, y0, x1, y1 float64
		if vertical {
			x0, x1 = c, c
			y0, y1 = f.minY, f.maxY
		} else {
			y0, y1 = c, c
			x0, x1 = f.minX, f.maxX
		}
		if !forward {
			x0, x1, y0, y1 = x1, x0, y1, y0
		}
		g.extruded += g.extrusionFor(math.Hypot(x1-x0, y1-y0), layerHeight)
		sb.WriteString(fmt.Sprintf("G0 X%.3f Y%.3f\n", x0, y0))
		sb.WriteString(fmt.Sprintf("G1 X%.3f Y%.3f E%.5f F%.0f\n", x1, y1, g.extruded, feed))
		forward = !forward
	}
	return sb.String()
}

// Generate renders a complete program in one call.
func (g *GCodeGenerator) Generate(m Model, p ParameterSet, now time.Time) string {
	layers := LayerCount(m, p)
	var sb strings.Builder
	sb.WriteString(g.Header(m, p, layers, now))
	for i := 0; i < layers; i++ {
		sb.WriteString(g.Layer(i, layers, m, p))
	}
	sb.WriteString(g.Footer())
	return sb.String()
}
