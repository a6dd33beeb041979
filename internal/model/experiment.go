package model

// Experiment kinds stored in the metadata file.
const (
	ExperimentNew    = "new_experiment"
	ExperimentRepeat = "repeat_experiment"
)

// Experiment is the metadata written next to a submitted runcard.
type Experiment struct {
	ID             string `json:"experimentId"`
	JobID          string `json:"jobId,omitempty"`
	Platform       string `json:"platform"`
	Partition      string `json:"partition"`
	Environment    string `json:"environment,omitempty"`
	SubmittedAt    int64  `json:"submittedAt"`
	Dir            string `json:"experimentDir"`
	OutputDir      string `json:"outputDir"`
	RuncardPath    string `json:"runcardPath"`
	ScriptPath     string `json:"jobScriptPath"`
	Type           string `json:"type"`
	Source         string `json:"source,omitempty"`
	OriginalReport string `json:"originalReportPath,omitempty"`

	// Filled in when the experiment is inspected, not persisted at submit time.
	HasOutput   bool     `json:"hasOutput"`
	OutputFiles []string `json:"outputFiles,omitempty"`
	HasSlurmLog bool     `json:"hasSlurmLog"`
	QueueState  string   `json:"queueState,omitempty"`
}
