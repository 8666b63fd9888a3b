package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	stlHeaderSize   = 80
	stlTriangleSize = 50
)

func parseSTL(data []byte) (Summary, error) {
	if isBinarySTL(data) {
		return parseBinarySTL(data)
	}
	return parseASCIISTL(data)
}

// isBinarySTL trusts the triangle count in the header when it matches the
// payload size exactly; many binary exporters also start with "solid".
func isBinarySTL(data []byte) bool {
	if len(data) < stlHeaderSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[stlHeaderSize:])
	if uint64(len(data)) == uint64(stlHeaderSize+4)+uint64(n)*stlTriangleSize {
		return true
	}
	return !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid"))
}

func parseBinarySTL(data []byte) (Summary, error) {
	if len(data) < stlHeaderSize+4 {
		return Summary{}, fmt.Errorf("binary stl: truncated header")
	}
	n := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	body := data[stlHeaderSize+4:]
	if len(body) < n*stlTriangleSize {
		return Summary{}, fmt.Errorf("binary stl: header declares %d triangles, payload holds %d", n, len(body)/stlTriangleSize)
	}

	s := Summary{Triangles: n, Bounds: emptyBox()}
	for t := 0; t < n; t++ {
		// skip the 12-byte facet normal
		off := t*stlTriangleSize + 12
		for v := 0; v < 3; v++ {
			var p [3]float64
			for i := 0; i < 3; i++ {
				bits := binary.LittleEndian.Uint32(body[off:])
				p[i] = float64(math.Float32frombits(bits))
				off += 4
			}
			if err := checkFinite(p); err != nil {
				return Summary{}, fmt.Errorf("binary stl triangle %d: %w", t, err)
			}
			s.Bounds.extend(p)
			s.Vertices++
		}
	}
	return s, nil
}

func parseASCIISTL(data []byte) (Summary, error) {
	s := Summary{Bounds: emptyBox()}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "facet":
			s.Triangles++
		case "vertex":
			p, err := parseVec(fields[1:])
			if err != nil {
				return Summary{}, fmt.Errorf("ascii stl line %d: %w", line, err)
			}
			s.Bounds.extend(p)
			s.Vertices++
		}
	}
	if err := sc.Err(); err != nil {
		return Summary{}, fmt.Errorf("ascii stl: %w", err)
	}
	return s, nil
}

func parseVec(fields []string) ([3]float64, error) {
	var p [3]float64
	if len(fields) < 3 {
		return p, fmt.Errorf("expected 3 coordinates, got %d", len(fields))
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return p, fmt.Errorf("invalid coordinate %q", fields[i])
		}
		p[i] = v
	}
	return p, checkFinite(p)
}

func checkFinite(p [3]float64) error {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite coordinate")
		}
	}
	return nil
}
