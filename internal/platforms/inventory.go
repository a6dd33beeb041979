package platforms

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// queuesFile maps platform names to SLURM partitions at the checkout root.
const queuesFile = "queues.json"

// platformMarker is the file whose presence makes a subdirectory a platform.
const platformMarker = "platform.py"

// List returns the platform names of the checkout: subdirectories holding
// a platform.py, skipping dot- and underscore-prefixed entries.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read platforms dir: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.dir, name, platformMarker)); err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// Queues reads the platform to partition mapping. A missing queues.json
// yields an empty map, not an error.
func (m *Manager) Queues() (map[string]string, error) {
	b, err := os.ReadFile(filepath.Join(m.dir, queuesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}

		return nil, fmt.Errorf("read %s: %w", queuesFile, err)
	}

	queues := map[string]string{}
	if err := json.Unmarshal(b, &queues); err != nil {
		return nil, fmt.Errorf("parse %s: %w", queuesFile, err)
	}

	return queues, nil
}

// Partition looks up the SLURM partition serving a platform. Empty when
// the platform has no queue assigned.
func (m *Manager) Partition(platform string) (string, error) {
	queues, err := m.Queues()
	if err != nil {
		return "", err
	}

	return queues[platform], nil
}

// QubitCount parses the NUM_QUBITS assignment out of a platform.py.
// Returns 0 when the file or the assignment is missing.
func (m *Manager) QubitCount(platform string) (int, error) {
	f, err := os.Open(filepath.Join(m.dir, platform, platformMarker))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", platformMarker, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "NUM_QUBITS") {
			continue
		}
		_, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}

		return n, nil
	}

	return 0, scanner.Err()
}

// PlatformDir returns the directory of one platform.
func (m *Manager) PlatformDir(platform string) string {
	return filepath.Join(m.dir, platform)
}
