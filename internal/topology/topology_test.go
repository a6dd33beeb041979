package topology

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	grid3x3 := [][]int{
		{0, 1}, {1, 2}, {3, 4}, {4, 5}, {6, 7}, {7, 8},
		{0, 3}, {3, 6}, {1, 4}, {4, 7}, {2, 5}, {5, 8},
	}
	twoCliques := [][]int{
		{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3},
		{3, 4}, {3, 5}, {3, 6}, {4, 5}, {4, 6}, {5, 6},
	}
	bipartite33 := [][]int{
		{0, 3}, {0, 4}, {0, 5}, {1, 3}, {1, 4}, {1, 5}, {2, 3}, {2, 4}, {2, 5},
	}

	cases := []struct {
		name        string
		connections [][]int
		want        Kind
	}{
		{"empty", nil, Unknown},
		{"self loop only", [][]int{{0, 0}}, Single},
		{"no usable pairs", [][]int{{7}}, Isolated},
		{"line of four", [][]int{{0, 1}, {1, 2}, {2, 3}}, Chain},
		{"square", [][]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}}, Ring},
		{"triangle", [][]int{{0, 1}, {1, 2}, {2, 0}}, Ring},
		{"hub and spokes", [][]int{{0, 1}, {0, 2}, {0, 3}, {0, 4}}, Star},
		{"three by three grid", grid3x3, Lattice},
		{"two cliques sharing a qubit", twoCliques, BowTie},
		{"cubic graph", bipartite33, Honeycomb},
		{"triangle with tail", [][]int{{0, 1}, {1, 2}, {2, 0}, {2, 3}}, Custom},
		{"two segments", [][]int{{0, 1}, {2, 3}}, Custom},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.connections))
		})
	}
}

func TestQubitCount(t *testing.T) {
	assert.Equal(t, 4, QubitCount([][]int{{0, 1}, {5, 9}}))
	assert.Zero(t, QubitCount(nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestConnectivity(t *testing.T) {
	t.Run("list under a known key", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"), `{"topology": [[0, 1], [1, 2]]}`)

		assert.Equal(t, [][]int{{0, 1}, {1, 2}}, Connectivity(dir))
	})

	t.Run("adjacency map is unrolled", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"), `{"connectivity": {"0": [1, 2], "3": 4}}`)

		assert.Equal(t, [][]int{{0, 1}, {0, 2}, {3, 4}}, Connectivity(dir))
	})

	t.Run("nested section", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"), `{"chip": {"coupling_map": [[0, 1]]}}`)

		assert.Equal(t, [][]int{{0, 1}}, Connectivity(dir))
	})

	t.Run("empty key falls through to nested section", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"),
			`{"topology": [], "chip": {"connectivity": [[0, 1]]}}`)

		assert.Equal(t, [][]int{{0, 1}}, Connectivity(dir))
	})

	t.Run("unusable parameters fall back to topology.json", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"),
			`{"native_gates": {"single_qubit": {"0": {"RX": {}}}}}`)
		writeFile(t, filepath.Join(dir, "topology.json"), `{"edges": [[0, 1], [1, 2], [2, 0]]}`)

		assert.Equal(t, [][]int{{0, 1}, {1, 2}, {2, 0}}, Connectivity(dir))
	})

	t.Run("nothing found", func(t *testing.T) {
		assert.Nil(t, Connectivity(t.TempDir()))
	})
}

func TestRenderSVG(t *testing.T) {
	t.Run("chain layout", func(t *testing.T) {
		svg := RenderSVG([][]int{{0, 1}, {1, 2}}, Chain)

		assert.True(t, strings.HasPrefix(svg, "<svg"))
		assert.Equal(t, 3, strings.Count(svg, "<circle"))
		assert.Equal(t, 2, strings.Count(svg, "<line"))
		assert.Contains(t, svg, ">Q0<")
		assert.Contains(t, svg, ">Q2<")
		assert.Contains(t, svg, "Topology: Chain | Qubits: 3 | Connections: 2")
	})

	t.Run("star keeps the hub", func(t *testing.T) {
		svg := RenderSVG([][]int{{0, 1}, {0, 2}, {0, 3}, {0, 4}}, Star)

		assert.Equal(t, 5, strings.Count(svg, "<circle"))
		assert.Equal(t, 4, strings.Count(svg, "<line"))
	})

	t.Run("nothing to draw", func(t *testing.T) {
		assert.Empty(t, RenderSVG(nil, Unknown))
	})
}

func TestParameters(t *testing.T) {
	t.Run("inverts the gate tables", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"), `{
			"native_gates": {
				"single_qubit": {
					"0": {"RX": {"duration": 40}, "MZ": {"duration": 1000}},
					"1": {"RX": {"duration": 40}},
					"10": {"RX": {"duration": 40}}
				},
				"two_qubit": {
					"0-1": {"CZ": [{"duration": 30}]}
				}
			}
		}`)

		summary, err := Parameters(dir)
		require.NoError(t, err)

		assert.Equal(t, []string{"0", "1", "10"}, summary.SingleQubitGates["RX"])
		assert.Equal(t, []string{"0"}, summary.SingleQubitGates["MZ"])
		assert.Equal(t, []string{"0-1"}, summary.TwoQubitGates["CZ"])
	})

	t.Run("no native gates", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "parameters.json"), `{"settings": {"nshots": 1024}}`)

		summary, err := Parameters(dir)
		require.NoError(t, err)
		assert.Empty(t, summary.SingleQubitGates)
		assert.Empty(t, summary.TwoQubitGates)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Parameters(t.TempDir())
		assert.Error(t, err)
	})
}
