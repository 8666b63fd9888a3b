// Package mesh extracts summary geometry (bounding box, triangle count)
// from uploaded STL and OBJ files.
package mesh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported model format")
	ErrEmptyMesh         = errors.New("mesh contains no vertices")
	ErrMalformedMesh     = errors.New("malformed mesh")
)

const (
	FormatSTL = "stl"
	FormatOBJ = "obj"
)

// Box is an axis-aligned bounding box.
type Box struct {
	Min [3]float64
	Max [3]float64
}

func emptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: [3]float64{inf, inf, inf},
		Max: [3]float64{-inf, -inf, -inf},
	}
}

func (b *Box) extend(v [3]float64) {
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], v[i])
		b.Max[i] = math.Max(b.Max[i], v[i])
	}
}

type Summary struct {
	Format    string
	Triangles int
	Vertices  int
	Bounds    Box
}

// FormatFor maps a filename onto a supported format by extension.
func FormatFor(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".stl":
		return FormatSTL, nil
	case ".obj":
		return FormatOBJ, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// Parse reads the whole mesh from r and summarizes it. The caller is
// responsible for bounding the size of r.
func Parse(name string, r io.Reader) (Summary, error) {
	format, err := FormatFor(name)
	if err != nil {
		return Summary{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read mesh: %w", err)
	}

	var s Summary
	switch format {
	case FormatSTL:
		s, err = parseSTL(data)
	case FormatOBJ:
		s, err = parseOBJ(bytes.NewReader(data))
	}
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrMalformedMesh, err)
	}
	if s.Vertices == 0 {
		return Summary{}, ErrEmptyMesh
	}
	s.Format = format
	return s, nil
}
