package model

// Job is one row of the SLURM queue as reported by squeue.
type Job struct {
	ID          string `json:"jobId"`
	Name        string `json:"name"`
	User        string `json:"user"`
	State       string `json:"state"`
	Time        string `json:"time"`
	TimeLimit   string `json:"timeLimit"`
	Nodes       string `json:"nodes"`
	Partition   string `json:"partition"`
	NodeList    string `json:"nodelist"`
	CurrentUser bool   `json:"currentUser"`
}
