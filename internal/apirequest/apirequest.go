// Package apirequest holds the request payloads of the JSON API. The
// payloads implement render.Binder, so decoding and the cheap field
// checks happen in one render.Bind call.
package apirequest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/qiboteam/qdashboard/internal/platforms"
)

// CancelRequest asks for one SLURM job to be cancelled.
type CancelRequest struct {
	JobID string `json:"job_id"`
}

func (c *CancelRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(c.JobID) == "" {
		return errors.New("no job ID provided")
	}

	return nil
}

// SwitchRequest names the branch to check out and what to do with
// uncommitted changes sitting in the platforms clone.
type SwitchRequest struct {
	Branch        string `json:"branch"`
	HandleChanges string `json:"handle_changes"`
}

func (s *SwitchRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(s.Branch) == "" {
		return errors.New("branch is required")
	}

	switch s.HandleChanges {
	case "", "fail", "stash":
		return nil
	default:
		return fmt.Errorf("unknown handle_changes value %q", s.HandleChanges)
	}
}

// Handling maps the wire value onto the manager's switch modes.
func (s *SwitchRequest) Handling() platforms.ChangeHandling {
	if s.HandleChanges == "stash" {
		return platforms.StashOnChanges
	}

	return platforms.FailOnChanges
}

// ValidateRequest carries a runcard as raw YAML text.
type ValidateRequest struct {
	Runcard string `json:"runcard"`
}

func (v *ValidateRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(v.Runcard) == "" {
		return errors.New("runcard is required")
	}

	return nil
}

// SubmitExperimentRequest submits a runcard, inline as YAML text or by
// path on the server. Exactly one of the two must be set.
type SubmitExperimentRequest struct {
	Runcard     string `json:"runcard"`
	RuncardPath string `json:"runcard_path"`
	Environment string `json:"environment"`
}

func (s *SubmitExperimentRequest) Bind(r *http.Request) error {
	if s.Runcard == "" && s.RuncardPath == "" {
		return errors.New("either a runcard path or runcard data must be provided")
	}
	if s.Runcard != "" && s.RuncardPath != "" {
		return errors.New("cannot provide both a runcard path and runcard data")
	}

	return nil
}

// RepeatReportRequest resubmits the runcard stored alongside a report.
type RepeatReportRequest struct {
	ReportPath string `json:"report_path"`
}

func (rr *RepeatReportRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(rr.ReportPath) == "" {
		return errors.New("report_path is required")
	}

	return nil
}
