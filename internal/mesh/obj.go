package mesh

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// parseOBJ reads geometric vertices ("v") and faces ("f"). Faces with more
// than three corners count as a triangle fan.
func parseOBJ(r io.Reader) (Summary, error) {
	s := Summary{Bounds: emptyBox()}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			p, err := parseVec(fields[1:])
			if err != nil {
				return Summary{}, fmt.Errorf("obj line %d: %w", line, err)
			}
			s.Bounds.extend(p)
			s.Vertices++
		case "f":
			if corners := len(fields) - 1; corners >= 3 {
				s.Triangles += corners - 2
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Summary{}, fmt.Errorf("obj: %w", err)
	}
	return s, nil
}
