package topology

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Renderer is the pluggable graph-image sink spec §1 carves out as an
// external collaborator: "specified only by the data they consume".
// Any implementation need only turn a vertex/edge list into an image
// at a path.
type Renderer interface {
	// Extension is the file extension (without a dot) this renderer
	// produces, used to name port_<P>_topology.<img>.
	Extension() string
	Render(path string, graph Graph) error
}

// SVGRenderer draws the directed graph as a circular layout, the way
// original_source's drawPlot lays peers out with networkx's circular
// layout before handing off to matplotlib. No library in the
// retrieved pack imports a plotting or graph-layout dependency, so
// this renders directly to SVG with the standard library rather than
// inventing a dependency with no grounding (see DESIGN.md).
type SVGRenderer struct{}

func (SVGRenderer) Extension() string { return "svg" }

func (SVGRenderer) Render(path string, graph Graph) error {
	const (
		size   = 640.0
		center = size / 2
		radius = size/2 - 60
	)

	// snapshot.go's Vertexes mirrors logTopology, which never lists the
	// node's own port; drawPlot, which this layout mirrors, always adds
	// self. Rather than growing the JSON schema to match, pick up any
	// port named by an edge endpoint that Vertexes omitted (self, in
	// practice) so its edges still get drawn instead of silently
	// dropped.
	vertexes := append([]int(nil), graph.Vertexes...)
	known := make(map[int]struct{}, len(vertexes))
	for _, v := range vertexes {
		known[v] = struct{}{}
	}
	for _, e := range graph.Edges {
		for _, v := range [2]int{portFromAddr(e.From), portFromAddr(e.To)} {
			if _, ok := known[v]; !ok {
				known[v] = struct{}{}
				vertexes = append(vertexes, v)
			}
		}
	}

	positions := make(map[int][2]float64, len(vertexes))
	n := len(vertexes)
	for i, v := range vertexes {
		angle := 2 * math.Pi * float64(i) / math.Max(1, float64(n))
		positions[v] = [2]float64{
			center + radius*math.Cos(angle),
			center + radius*math.Sin(angle),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" viewBox="0 0 %g %g">`+"\n",
		size, size, size, size)
	fmt.Fprintf(&b, `<rect width="%g" height="%g" fill="white"/>`+"\n", size, size)

	for _, e := range graph.Edges {
		fromPort, toPort := portFromAddr(e.From), portFromAddr(e.To)
		from, okFrom := positions[fromPort]
		to, okTo := positions[toPort]
		if !okFrom || !okTo {
			continue
		}
		fmt.Fprintf(&b, `<line x1="%g" y1="%g" x2="%g" y2="%g" stroke="#888" stroke-width="1"/>`+"\n",
			from[0], from[1], to[0], to[1])
	}

	for v, pos := range positions {
		fmt.Fprintf(&b, `<circle cx="%g" cy="%g" r="18" fill="#4a90d9"/>`+"\n", pos[0], pos[1])
		fmt.Fprintf(&b, `<text x="%g" y="%g" font-size="10" text-anchor="middle" fill="white">%d</text>`+"\n",
			pos[0], pos[1]+4, v)
	}

	b.WriteString("</svg>\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrapf(err, "write topology image to %s", path)
	}
	return nil
}

// portFromAddr parses "127.0.0.1:<port>" back into the bare port. The
// renderer only ever receives addresses this package itself produced
// (see Edge in snapshot.go), so a malformed address means an upstream
// bug, not bad input to tolerate.
func portFromAddr(addr string) int {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return -1
	}
	var port int
	fmt.Sscanf(addr[idx+1:], "%d", &port)
	return port
}
