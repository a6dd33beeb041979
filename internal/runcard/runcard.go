// Package runcard models the YAML experiment descriptions handed to qq.
package runcard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qiboteam/qdashboard/internal/protocols"
)

// Action schedules one calibration routine.
type Action struct {
	ID         string         `yaml:"id" json:"id"`
	Operation  string         `yaml:"operation" json:"operation"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Runcard is a full experiment description. Qubits is the pre-0.2
// spelling of Targets and is kept so stored runcards still decode.
type Runcard struct {
	Platform    string   `yaml:"platform" json:"platform"`
	Backend     string   `yaml:"backend,omitempty" json:"backend,omitempty"`
	Targets     []any    `yaml:"targets,omitempty" json:"targets,omitempty"`
	Qubits      []any    `yaml:"qubits,omitempty" json:"qubits,omitempty"`
	Partition   string   `yaml:"partition,omitempty" json:"partition,omitempty"`
	Environment string   `yaml:"environment,omitempty" json:"environment,omitempty"`
	Actions     []Action `yaml:"actions" json:"actions"`
}

// Decode reads one YAML document. Unknown fields are rejected so typos
// surface before a job burns queue time.
func Decode(r io.Reader) (*Runcard, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rc Runcard
	if err := dec.Decode(&rc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("runcard is empty")
		}

		return nil, fmt.Errorf("parse runcard: %w", err)
	}

	return &rc, nil
}

// Parse decodes a runcard held in memory.
func Parse(data []byte) (*Runcard, error) {
	return Decode(bytes.NewReader(data))
}

// Encode writes the runcard as YAML. Map keys come out sorted, so the
// same runcard always serializes to the same bytes.
func (rc *Runcard) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rc); err != nil {
		return fmt.Errorf("encode runcard: %w", err)
	}

	return enc.Close()
}

// Bytes serializes the runcard.
func (rc *Runcard) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := rc.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Validate checks the runcard against the protocol registry and returns
// one message per problem found. knownPlatforms may be empty, in which
// case only the presence of a platform is checked. Parameters the
// registry does not know are tolerated, routines grow knobs faster than
// the registry tracks them.
func (rc *Runcard) Validate(knownPlatforms []string) []string {
	var problems []string

	if strings.TrimSpace(rc.Platform) == "" {
		problems = append(problems, "platform is required")
	} else if len(knownPlatforms) > 0 && !contains(knownPlatforms, rc.Platform) {
		problems = append(problems, fmt.Sprintf("unknown platform %q", rc.Platform))
	}

	if len(rc.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}

	seen := map[string]bool{}
	for i, a := range rc.Actions {
		label := a.ID
		if label == "" {
			label = fmt.Sprintf("action %d", i)
			problems = append(problems, fmt.Sprintf("%s: id is required", label))
		} else if seen[a.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate action id", label))
		}
		seen[a.ID] = true

		if a.Operation == "" {
			problems = append(problems, fmt.Sprintf("%s: operation is required", label))

			continue
		}

		proto, ok := protocols.Lookup(a.Operation)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: unknown operation %q", label, a.Operation))

			continue
		}

		for _, spec := range proto.Params {
			value, present := a.Parameters[spec.Name]
			if !present {
				if spec.Required {
					problems = append(problems, fmt.Sprintf("%s: missing required parameter %q", label, spec.Name))
				}

				continue
			}
			if !spec.Accepts(value) {
				problems = append(problems, fmt.Sprintf("%s: parameter %q expects %s", label, spec.Name, spec.Type))
			}
		}
	}

	return problems
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
