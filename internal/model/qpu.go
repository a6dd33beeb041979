package model

// QPU statuses derived from the SLURM partition state.
const (
	StatusOnline  = "online"
	StatusRunning = "running"
	StatusOffline = "offline"
)

// QPU describes one platform of the qibolab platforms checkout.
type QPU struct {
	Name            string `json:"name"`
	Qubits          int    `json:"qubits"`
	Status          string `json:"status"`
	Queue           string `json:"queue"`
	Topology        string `json:"topology"`
	CalibrationTime string `json:"calibrationTime"`
	QibolabVersion  string `json:"qibolabVersion,omitempty"`
}
