package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/orrn/slicer/internal/core"
)

func renderProfiles(profiles []core.Profile) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Name", "Layer", "Infill", "Speed", "Nozzle", "Bed", "Support"})

	for _, p := range profiles {
		ps := p.Parameters
		support := "off"
		if ps.SupportEnabled {
			support = strconv.FormatFloat(ps.SupportDensityOr(0), 'f', 0, 64) + "%"
		}
		tw.AppendRow(table.Row{
			p.ID,
			p.Name,
			fmt.Sprintf("%.2fmm", ps.LayerHeight),
			fmt.Sprintf("%.0f%%", ps.InfillDensity),
			fmt.Sprintf("%.0fmm/s", ps.PrintSpeed),
			fmt.Sprintf("%.0f°C", ps.NozzleTemperature),
			fmt.Sprintf("%.0f°C", ps.BedTemperature),
			support,
		})
	}

	configs := make([]table.ColumnConfig, 0, 6)
	for col := 3; col <= 8; col++ {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
