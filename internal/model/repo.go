package model

// Branches lists the checkout's branches as git reports them.
type Branches struct {
	Current string   `json:"current"`
	Local   []string `json:"local"`
	Remote  []string `json:"remote"`
}

// RepoStatus summarizes the platforms checkout against its upstream.
type RepoStatus struct {
	Branch  string `json:"branch"`
	Commit  string `json:"commit"`
	Message string `json:"commitMessage"`
	Ahead   int    `json:"ahead"`
	Behind  int    `json:"behind"`
	Clean   bool   `json:"clean"`
}

// Stash is one entry of git stash list.
type Stash struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Date    string `json:"date,omitempty"`
}

// SwitchResult reports how a branch switch went, including how dirty
// state was handled.
type SwitchResult struct {
	Branch         string `json:"branch"`
	HadChanges     bool   `json:"hadChanges"`
	ChangesHandled string `json:"changesHandled,omitempty"`
	StashCreated   string `json:"stashCreated,omitempty"`
	StashApplied   string `json:"stashApplied,omitempty"`
	StashConflicts bool   `json:"stashConflicts,omitempty"`
}
