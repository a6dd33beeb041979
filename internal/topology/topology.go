// Package topology extracts qubit coupling graphs from platform
// configuration files, names their layout and draws them.
package topology

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Kind labels the shape of a device's coupling graph.
type Kind string

const (
	Unknown   Kind = "unknown"
	Single    Kind = "single"
	Isolated  Kind = "isolated"
	Chain     Kind = "chain"
	Ring      Kind = "ring"
	Star      Kind = "star"
	Lattice   Kind = "lattice"
	BowTie    Kind = "bow_tie"
	Honeycomb Kind = "honeycomb"
	Custom    Kind = "custom"
)

// configFiles are searched in order for connectivity data.
var configFiles = []string{"parameters.json", "topology.json"}

// connectivityKeys may hold the coupling list, at the top level or one
// section deep.
var connectivityKeys = []string{
	"topology", "connectivity", "connections", "coupling_map", "couplings",
	"native_gates", "edges",
}

// sections are nested objects also searched for connectivity keys.
var sections = []string{"platform", "device", "chip", "qubits"}

// Connectivity extracts the coupling list of the platform stored in
// dir. parameters.json is preferred over topology.json and a file whose
// data cannot be normalized is skipped. Returns nil when no usable
// connectivity was found.
func Connectivity(dir string) [][]int {
	for _, name := range configFiles {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}

		var config map[string]any
		if err := json.Unmarshal(b, &config); err != nil {
			continue
		}

		raw := findConnectivity(config)
		if raw == nil {
			continue
		}

		conns, err := normalize(raw)
		if err != nil || len(conns) == 0 {
			continue
		}

		return conns
	}

	return nil
}

// findConnectivity scans the known key names. The first present key
// wins at each level, even when its value turns out to be empty.
func findConnectivity(config map[string]any) any {
	var found any
	for _, key := range connectivityKeys {
		if v, ok := config[key]; ok {
			found = v

			break
		}
	}
	if nonEmpty(found) {
		return found
	}

	for _, section := range sections {
		nested, ok := config[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range connectivityKeys {
			if v, ok := nested[key]; ok {
				found = v

				break
			}
		}
		if nonEmpty(found) {
			return found
		}
	}

	return nil
}

func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}

	return true
}

// normalize turns the raw JSON value into a connection list. Lists are
// taken as-is, maps are unrolled source by source.
func normalize(raw any) ([][]int, error) {
	switch data := raw.(type) {
	case []any:
		conns := make([][]int, 0, len(data))
		for _, item := range data {
			pair, ok := item.([]any)
			if !ok {
				return nil, fmt.Errorf("connection %v is not a list", item)
			}
			conn := make([]int, 0, len(pair))
			for _, q := range pair {
				n, err := toInt(q)
				if err != nil {
					return nil, err
				}
				conn = append(conn, n)
			}
			conns = append(conns, conn)
		}

		return conns, nil

	case map[string]any:
		type link struct {
			source  int
			targets any
		}
		links := make([]link, 0, len(data))
		for k, v := range data {
			source, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("source qubit %q: %w", k, err)
			}
			links = append(links, link{source, v})
		}
		sort.Slice(links, func(i, j int) bool { return links[i].source < links[j].source })

		conns := [][]int{}
		for _, l := range links {
			if targets, ok := l.targets.([]any); ok {
				for _, t := range targets {
					n, err := toInt(t)
					if err != nil {
						return nil, err
					}
					conns = append(conns, []int{l.source, n})
				}

				continue
			}
			n, err := toInt(l.targets)
			if err != nil {
				return nil, err
			}
			conns = append(conns, []int{l.source, n})
		}

		return conns, nil
	}

	return nil, fmt.Errorf("unsupported connectivity shape %T", raw)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	case int:
		return n, nil
	}

	return 0, fmt.Errorf("not a qubit index: %v", v)
}

// QubitCount returns the number of distinct qubits in a coupling list.
func QubitCount(connections [][]int) int {
	return len(buildGraph(connections).nodes)
}

// Classify names the topology spanned by a coupling list. The decision
// uses degree statistics, connectedness and articulation points.
func Classify(connections [][]int) Kind {
	if len(connections) == 0 {
		return Unknown
	}

	g := buildGraph(connections)
	switch len(g.nodes) {
	case 0:
		return Isolated
	case 1:
		return Single
	}

	nodes := len(g.nodes)
	edges := g.edges
	degreeCount := map[int]int{}
	maxDeg, minDeg, sum := 0, math.MaxInt, 0
	for _, q := range g.nodes {
		d := len(g.adj[q])
		degreeCount[d]++
		sum += d
		if d > maxDeg {
			maxDeg = d
		}
		if d < minDeg {
			minDeg = d
		}
	}
	avgDeg := float64(sum) / float64(nodes)
	connected := g.connected()

	switch {
	case maxDeg <= 2 && edges == nodes-1 && connected &&
		degreeCount[1] == 2 && degreeCount[2] == nodes-2:
		return Chain
	case maxDeg == 2 && minDeg == 2 && edges == nodes && connected:
		return Ring
	case maxDeg == nodes-1 && degreeCount[1] == nodes-1 && degreeCount[nodes-1] == 1:
		return Star
	}

	if avgDeg >= 2 && avgDeg <= 4 && maxDeg <= 4 && connected {
		corners, rims, inner := degreeCount[2], degreeCount[3], degreeCount[4]
		if corners+rims+inner == nodes && corners >= 4 {
			return Lattice
		}
	}

	if nodes >= 5 {
		if points := g.articulationPoints(); len(points) == 1 {
			sizes := g.componentsWithout(points[0])
			if len(sizes) == 2 && abs(sizes[0]-sizes[1]) <= 1 {
				return BowTie
			}
		}
	}

	if minDeg >= 2 && maxDeg <= 3 && connected &&
		float64(degreeCount[3]) >= float64(nodes)*0.8 {
		return Honeycomb
	}

	return Custom
}

// graph is the undirected multigraph spanned by a connection list.
// Connections shorter than a pair add no nodes but still count as
// edges.
type graph struct {
	nodes []int
	adj   map[int][]int
	edges int
}

func buildGraph(connections [][]int) *graph {
	g := &graph{adj: map[int][]int{}, edges: len(connections)}

	set := map[int]bool{}
	for _, conn := range connections {
		if len(conn) >= 2 {
			set[conn[0]] = true
			set[conn[1]] = true
		}
	}
	for q := range set {
		g.nodes = append(g.nodes, q)
	}
	sort.Ints(g.nodes)

	for _, conn := range connections {
		if len(conn) < 2 {
			continue
		}
		a, b := conn[0], conn[1]
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}

	return g
}

func (g *graph) connected() bool {
	if len(g.nodes) == 0 {
		return false
	}

	return g.reach(g.nodes[0], math.MinInt) == len(g.nodes)
}

// reach counts the nodes reachable from start, treating skip as
// removed.
func (g *graph) reach(start, skip int) int {
	visited := map[int]bool{start: true}
	queue := []int{start}
	count := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		count++
		for _, v := range g.adj[u] {
			if v != skip && !visited[v] {
				visited[v] = true
				queue = append(queue, v)
			}
		}
	}

	return count
}

// componentsWithout returns the component sizes of the graph with one
// node removed.
func (g *graph) componentsWithout(skip int) []int {
	visited := map[int]bool{skip: true}
	sizes := []int{}
	for _, start := range g.nodes {
		if visited[start] {
			continue
		}

		size := 0
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			size++
			for _, v := range g.adj[u] {
				if v != skip && !visited[v] {
					visited[v] = true
					queue = append(queue, v)
				}
			}
		}
		sizes = append(sizes, size)
	}

	return sizes
}

// articulationPoints finds the cut vertices of the graph.
func (g *graph) articulationPoints() []int {
	disc := map[int]int{}
	low := map[int]int{}
	cuts := map[int]bool{}
	timer := 0

	var dfs func(u, parent int)
	dfs = func(u, parent int) {
		timer++
		disc[u] = timer
		low[u] = timer
		children := 0

		for _, v := range g.adj[u] {
			if v == parent {
				continue
			}
			if d, seen := disc[v]; seen {
				if d < low[u] {
					low[u] = d
				}

				continue
			}

			children++
			dfs(v, u)
			if low[v] < low[u] {
				low[u] = low[v]
			}
			if parent != math.MinInt && low[v] >= disc[u] {
				cuts[u] = true
			}
		}

		if parent == math.MinInt && children > 1 {
			cuts[u] = true
		}
	}

	for _, root := range g.nodes {
		if _, seen := disc[root]; !seen {
			dfs(root, math.MinInt)
		}
	}

	points := make([]int, 0, len(cuts))
	for q := range cuts {
		points = append(points, q)
	}
	sort.Ints(points)

	return points
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}
