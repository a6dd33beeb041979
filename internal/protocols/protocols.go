// Package protocols catalogs the qibocal calibration routines the
// experiment builder can schedule, with their expected parameters.
package protocols

import "strings"

// ParamSpec describes one runcard parameter of a protocol.
type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Accepts reports whether a decoded YAML value satisfies the declared
// parameter type. Integers pass as floats, unknown types accept anything.
func (s ParamSpec) Accepts(v any) bool {
	switch s.Type {
	case "int":
		switch v.(type) {
		case int, int64:
			return true
		}

		return false
	case "float":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}

		return false
	case "bool":
		_, ok := v.(bool)

		return ok
	case "str":
		_, ok := v.(string)

		return ok
	case "list":
		_, ok := v.([]any)

		return ok
	}

	return true
}

// Protocol describes one qibocal routine.
type Protocol struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	ClassName  string      `json:"class_name"`
	ModuleName string      `json:"module_name"`
	ModulePath string      `json:"module_path"`
	Params     []ParamSpec `json:"params,omitempty"`
}

// Param looks a parameter spec up by name.
func (p Protocol) Param(name string) (ParamSpec, bool) {
	for _, spec := range p.Params {
		if spec.Name == name {
			return spec, true
		}
	}

	return ParamSpec{}, false
}

// categoryOrder fixes how categories are reported.
var categoryOrder = []string{
	"Characterization", "Calibration", "Verification", "Coherence",
	"Spectroscopy", "Readout", "Two-Qubit", "Couplers", "Other",
}

// categoryKeywords assigns a protocol to the first category whose
// keyword matches its class or module name.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Spectroscopy", []string{"spectroscopy", "resonator_spectroscopy", "qubit_spectroscopy"}},
	{"Readout", []string{"readout", "classification", "single_shot", "state_discrimination"}},
	{"Coherence", []string{"coherence", "t1", "t2", "spin_echo", "ramsey"}},
	{"Couplers", []string{"coupler", "avoided_crossing"}},
	{"Two-Qubit", []string{"cross_resonance", "chevron", "two_qubit", "chsh", "mermin", "tomography"}},
	{"Verification", []string{"rb", "randomized_benchmarking", "allxy", "standard_rb", "filtered_rb"}},
	{"Calibration", []string{"drag", "calibration", "optimization", "tuning"}},
	{"Characterization", []string{"rabi", "characterization"}},
}

// registry is the curated routine list, mirroring what a qibocal
// installation typically offers.
var registry = []Protocol{
	{
		ID: "rabi", Name: "Rabi", ClassName: "Rabi",
		ModuleName: "characterization", ModulePath: "qibocal.protocols.characterization.rabi",
		Params: []ParamSpec{
			{Name: "min_amp_factor", Type: "float", Default: 0.0, Required: true},
			{Name: "max_amp_factor", Type: "float", Default: 2.0, Required: true},
			{Name: "step_amp_factor", Type: "float", Default: 0.1, Required: true},
			{Name: "pulse_length", Type: "float", Default: 40.0},
			{Name: "nshots", Type: "int", Default: 1024},
			{Name: "relaxation_time", Type: "int", Default: 50000},
		},
	},
	{
		ID: "ramsey", Name: "Ramsey", ClassName: "Ramsey",
		ModuleName: "characterization", ModulePath: "qibocal.protocols.characterization.ramsey",
		Params: []ParamSpec{
			{Name: "delay_between_pulses_start", Type: "int", Default: 16, Required: true},
			{Name: "delay_between_pulses_end", Type: "int", Default: 5000, Required: true},
			{Name: "delay_between_pulses_step", Type: "int", Default: 100, Required: true},
			{Name: "detuning", Type: "int", Default: 0},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "t1", Name: "T1", ClassName: "T1",
		ModuleName: "characterization", ModulePath: "qibocal.protocols.characterization.t1",
		Params: []ParamSpec{
			{Name: "delay_before_readout_start", Type: "int", Default: 16, Required: true},
			{Name: "delay_before_readout_end", Type: "int", Default: 100000, Required: true},
			{Name: "delay_before_readout_step", Type: "int", Default: 1000, Required: true},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "t2", Name: "T2", ClassName: "T2",
		ModuleName: "characterization", ModulePath: "qibocal.protocols.characterization.t2",
		Params: []ParamSpec{
			{Name: "delay_between_pulses_start", Type: "int", Default: 16, Required: true},
			{Name: "delay_between_pulses_end", Type: "int", Default: 80000, Required: true},
			{Name: "delay_between_pulses_step", Type: "int", Default: 800, Required: true},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "spin_echo", Name: "Spin Echo", ClassName: "SpinEcho",
		ModuleName: "characterization", ModulePath: "qibocal.protocols.characterization.spin_echo",
		Params: []ParamSpec{
			{Name: "delay_between_pulses_start", Type: "int", Default: 16, Required: true},
			{Name: "delay_between_pulses_end", Type: "int", Default: 80000, Required: true},
			{Name: "delay_between_pulses_step", Type: "int", Default: 800, Required: true},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "resonator_spectroscopy", Name: "Resonator Spectroscopy", ClassName: "ResonatorSpectroscopy",
		ModuleName: "spectroscopy", ModulePath: "qibocal.protocols.spectroscopy.resonator_spectroscopy",
		Params: []ParamSpec{
			{Name: "freq_width", Type: "int", Default: 2000000, Required: true},
			{Name: "freq_step", Type: "int", Default: 100000, Required: true},
			{Name: "amplitude", Type: "float"},
			{Name: "power_level", Type: "str", Default: "low"},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "qubit_spectroscopy", Name: "Qubit Spectroscopy", ClassName: "QubitSpectroscopy",
		ModuleName: "spectroscopy", ModulePath: "qibocal.protocols.spectroscopy.qubit_spectroscopy",
		Params: []ParamSpec{
			{Name: "freq_width", Type: "int", Default: 10000000, Required: true},
			{Name: "freq_step", Type: "int", Default: 500000, Required: true},
			{Name: "drive_duration", Type: "int", Default: 2000},
			{Name: "drive_amplitude", Type: "float"},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "standard_rb", Name: "Standard RB", ClassName: "StandardRB",
		ModuleName: "verification", ModulePath: "qibocal.protocols.verification.standard_rb",
		Params: []ParamSpec{
			{Name: "depths", Type: "list", Default: []int{1, 5, 10, 20, 50}, Required: true},
			{Name: "niter", Type: "int", Default: 5, Required: true},
			{Name: "nshots", Type: "int", Default: 256},
		},
	},
	{
		ID: "allxy", Name: "AllXY", ClassName: "AllXY",
		ModuleName: "verification", ModulePath: "qibocal.protocols.verification.allxy",
		Params: []ParamSpec{
			{Name: "beta_param", Type: "float"},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "drag", Name: "DRAG", ClassName: "DRAG",
		ModuleName: "calibration", ModulePath: "qibocal.protocols.calibration.drag",
		Params: []ParamSpec{
			{Name: "beta_start", Type: "float", Default: -1.0, Required: true},
			{Name: "beta_end", Type: "float", Default: 1.0, Required: true},
			{Name: "beta_step", Type: "float", Default: 0.1, Required: true},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "single_shot_classification", Name: "Single Shot Classification", ClassName: "SingleShotClassification",
		ModuleName: "readout", ModulePath: "qibocal.protocols.readout.single_shot_classification",
		Params: []ParamSpec{
			{Name: "nshots", Type: "int", Default: 5000, Required: true},
		},
	},
	{
		ID: "chevron", Name: "Chevron", ClassName: "Chevron",
		ModuleName: "two_qubit", ModulePath: "qibocal.protocols.two_qubit.chevron",
		Params: []ParamSpec{
			{Name: "amplitude_min_factor", Type: "float", Default: 0.1, Required: true},
			{Name: "amplitude_max_factor", Type: "float", Default: 0.6, Required: true},
			{Name: "amplitude_step_factor", Type: "float", Default: 0.01, Required: true},
			{Name: "duration_min", Type: "int", Default: 10, Required: true},
			{Name: "duration_max", Type: "int", Default: 100, Required: true},
			{Name: "duration_step", Type: "int", Default: 2, Required: true},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
	{
		ID: "cross_resonance", Name: "Cross Resonance", ClassName: "CrossResonance",
		ModuleName: "two_qubit", ModulePath: "qibocal.protocols.two_qubit.cross_resonance",
		Params: []ParamSpec{
			{Name: "pulse_duration_start", Type: "int", Default: 16, Required: true},
			{Name: "pulse_duration_end", Type: "int", Default: 400, Required: true},
			{Name: "pulse_duration_step", Type: "int", Default: 8, Required: true},
			{Name: "nshots", Type: "int", Default: 1024},
		},
	},
}

// All returns every known protocol in registry order.
func All() []Protocol {
	out := make([]Protocol, len(registry))
	copy(out, registry)

	return out
}

// Lookup finds a protocol by its runcard operation id.
func Lookup(id string) (Protocol, bool) {
	for _, p := range registry {
		if p.ID == id {
			return p, true
		}
	}

	return Protocol{}, false
}

// KnownOperation reports whether the registry carries the operation.
func KnownOperation(id string) bool {
	_, ok := Lookup(id)

	return ok
}

// Category buckets a protocol by keyword matching on its class and
// module names.
func Category(p Protocol) string {
	class := strings.ToLower(p.ClassName)
	module := strings.ToLower(p.ModuleName)
	for _, rule := range categoryKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(class, kw) || strings.Contains(module, kw) {
				return rule.category
			}
		}
	}

	return "Other"
}

// ByCategory groups the registry for the builder UI. Empty categories
// are left out.
func ByCategory() map[string][]Protocol {
	grouped := map[string][]Protocol{}
	for _, p := range registry {
		c := Category(p)
		grouped[c] = append(grouped[c], p)
	}

	return grouped
}

// Categories lists the non-empty category names in display order.
func Categories() []string {
	grouped := ByCategory()
	names := make([]string, 0, len(grouped))
	for _, c := range categoryOrder {
		if len(grouped[c]) > 0 {
			names = append(names, c)
		}
	}

	return names
}
