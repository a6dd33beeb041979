package topology

import (
	"fmt"
	"math"
	"strings"
)

const (
	svgWidth   = 640.0
	svgHeight  = 480.0
	svgMargin  = 70.0
	nodeRadius = 18.0
)

type point struct {
	x, y float64
}

// RenderSVG draws the coupling graph as a standalone SVG document.
// Chains are laid out on a line, stars around their hub and everything
// else on a circle. Returns "" when there is nothing to draw.
func RenderSVG(connections [][]int, kind Kind) string {
	g := buildGraph(connections)
	if len(g.nodes) == 0 {
		return ""
	}

	pos := layoutNodes(g, kind)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">`,
		svgWidth, svgHeight, svgWidth, svgHeight)
	b.WriteString(`<rect width="100%" height="100%" fill="white"/>`)
	fmt.Fprintf(&b, `<text x="%.0f" y="30" text-anchor="middle" font-family="sans-serif" font-size="18" font-weight="bold">Quantum Device Topology: %s</text>`,
		svgWidth/2, displayName(kind))

	for _, conn := range connections {
		if len(conn) < 2 || conn[0] == conn[1] {
			continue
		}
		a, aok := pos[conn[0]]
		z, zok := pos[conn[1]]
		if !aok || !zok {
			continue
		}
		fmt.Fprintf(&b, `<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="#1f77b4" stroke-width="2" stroke-opacity="0.7"/>`,
			a.x, a.y, z.x, z.y)
	}

	for _, q := range g.nodes {
		p := pos[q]
		fmt.Fprintf(&b, `<circle cx="%.1f" cy="%.1f" r="%.0f" fill="lightblue" stroke="navy" stroke-width="2"/>`,
			p.x, p.y, nodeRadius)
		fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" text-anchor="middle" dominant-baseline="central" font-family="sans-serif" font-size="12" font-weight="bold">Q%d</text>`,
			p.x, p.y, q)
	}

	fmt.Fprintf(&b, `<text x="12" y="%.0f" font-family="sans-serif" font-size="11" fill="#555">Topology: %s | Qubits: %d | Connections: %d</text>`,
		svgHeight-12, displayName(kind), len(g.nodes), len(connections))
	b.WriteString(`</svg>`)

	return b.String()
}

func layoutNodes(g *graph, kind Kind) map[int]point {
	switch kind {
	case Chain:
		return chainLayout(g)
	case Star:
		return starLayout(g)
	}

	return circularLayout(g, g.nodes)
}

func chainLayout(g *graph) map[int]point {
	pos := map[int]point{}
	n := len(g.nodes)
	if n == 1 {
		pos[g.nodes[0]] = point{svgWidth / 2, svgHeight / 2}

		return pos
	}

	step := (svgWidth - 2*svgMargin) / float64(n-1)
	for i, q := range g.nodes {
		pos[q] = point{svgMargin + float64(i)*step, svgHeight / 2}
	}

	return pos
}

func starLayout(g *graph) map[int]point {
	hub := g.nodes[0]
	for _, q := range g.nodes {
		if len(g.adj[q]) > len(g.adj[hub]) {
			hub = q
		}
	}

	rim := make([]int, 0, len(g.nodes)-1)
	for _, q := range g.nodes {
		if q != hub {
			rim = append(rim, q)
		}
	}

	pos := circularLayout(g, rim)
	pos[hub] = point{svgWidth / 2, svgHeight / 2}

	return pos
}

func circularLayout(g *graph, ring []int) map[int]point {
	pos := map[int]point{}
	cx, cy := svgWidth/2, svgHeight/2
	if len(ring) == 1 {
		pos[ring[0]] = point{cx, cy}

		return pos
	}

	r := math.Min(svgWidth, svgHeight)/2 - svgMargin
	for i, q := range ring {
		angle := 2*math.Pi*float64(i)/float64(len(ring)) - math.Pi/2
		pos[q] = point{cx + r*math.Cos(angle), cy + r*math.Sin(angle)}
	}

	return pos
}

func displayName(kind Kind) string {
	words := strings.Split(string(kind), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}

	return strings.Join(words, " ")
}
