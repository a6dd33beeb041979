package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// GateSummary lists which qubits and qubit pairs implement each native
// gate of a platform.
type GateSummary struct {
	SingleQubitGates map[string][]string `json:"single_qubit_gates"`
	TwoQubitGates    map[string][]string `json:"two_qubit_gates"`
}

// Parameters summarizes the native gate tables of the platform's
// parameters.json.
func Parameters(dir string) (GateSummary, error) {
	summary := GateSummary{
		SingleQubitGates: map[string][]string{},
		TwoQubitGates:    map[string][]string{},
	}

	b, err := os.ReadFile(filepath.Join(dir, "parameters.json"))
	if err != nil {
		return summary, fmt.Errorf("read parameters.json: %w", err)
	}

	var config struct {
		NativeGates map[string]map[string]any `json:"native_gates"`
	}
	if err := json.Unmarshal(b, &config); err != nil {
		return summary, fmt.Errorf("parse parameters.json: %w", err)
	}

	for qubit, raw := range config.NativeGates["single_qubit"] {
		gates, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for gate := range gates {
			summary.SingleQubitGates[gate] = append(summary.SingleQubitGates[gate], qubit)
		}
	}
	for pair, raw := range config.NativeGates["two_qubit"] {
		gates, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for gate := range gates {
			summary.TwoQubitGates[gate] = append(summary.TwoQubitGates[gate], pair)
		}
	}

	for _, qubits := range summary.SingleQubitGates {
		sortQubitIDs(qubits)
	}
	for _, pairs := range summary.TwoQubitGates {
		sort.Strings(pairs)
	}

	return summary, nil
}

// sortQubitIDs orders numerically where possible, lexically otherwise.
func sortQubitIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return a < b
		}

		return ids[i] < ids[j]
	})
}
