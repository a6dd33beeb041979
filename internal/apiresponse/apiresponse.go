// Package apiresponse holds the response payloads the JSON API builds
// by hand rather than lifting straight off a model type.
package apiresponse

import (
	"net/http"
)

// StatusResponse acknowledges an accepted action.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"msg"`
}

func NewStatusResponse(msg string) *StatusResponse {
	return &StatusResponse{Status: "success", Message: msg}
}

func (s *StatusResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// ValidationResponse reports what a runcard check found.
type ValidationResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

// NewValidationResponse keeps Problems non-nil so the JSON carries []
// instead of null.
func NewValidationResponse(problems []string) *ValidationResponse {
	if problems == nil {
		problems = []string{}
	}

	return &ValidationResponse{Valid: len(problems) == 0, Problems: problems}
}

func (v *ValidationResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}
