// Package client is a typed Go client for the qdashboard HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/qiboteam/qdashboard/internal/browse"
	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/monitor"
)

// Client talks to a running dashboard. Key, when set, authorizes file
// writes the same way the browser's auth cookie does.
type Client struct {
	http.Client
	Addr string
	Key  string
}

// APIError is a non-2xx response decoded from the API's error shape.
type APIError struct {
	StatusCode int
	Status     string   `json:"status"`
	Message    string   `json:"error"`
	Problems   []string `json:"problems"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Status, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s (%d)", e.Status, e.StatusCode)
}

// Versions reports the installed qibo package versions.
type Versions struct {
	Versions      map[string]string `json:"versions"`
	QibolabNewAPI bool              `json:"qibolab_new_api"`
}

// PlatformInventory lists the platforms of the checkout.
type PlatformInventory struct {
	Platforms []string          `json:"platforms"`
	Queues    map[string]string `json:"queues"`
	Path      string            `json:"path"`
}

// Validation is the outcome of checking a runcard.
type Validation struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+"/ping", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// QPUStatus fetches the current fleet snapshot.
func (c *Client) QPUStatus(ctx context.Context) (*monitor.Snapshot, error) {
	var snap monitor.Snapshot
	if err := c.get(ctx, "/api/qpu_status", &snap); err != nil {
		return nil, err
	}

	return &snap, nil
}

func (c *Client) PackageVersions(ctx context.Context) (Versions, error) {
	var v Versions
	err := c.get(ctx, "/api/versions", &v)

	return v, err
}

// Queue returns the SLURM queue as the dashboard sees it.
func (c *Client) Queue(ctx context.Context) ([]model.Job, error) {
	var out struct {
		Jobs []model.Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/queue", &out); err != nil {
		return nil, err
	}

	return out.Jobs, nil
}

func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.Addr+"/api/queue/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}

	return c.do(req, nil)
}

func (c *Client) Platforms(ctx context.Context) (PlatformInventory, error) {
	var inv PlatformInventory
	err := c.get(ctx, "/api/platforms", &inv)

	return inv, err
}

func (c *Client) Branches(ctx context.Context) (model.Branches, error) {
	var b model.Branches
	err := c.get(ctx, "/api/platforms/branches", &b)

	return b, err
}

func (c *Client) RepoStatus(ctx context.Context) (model.RepoStatus, error) {
	var s model.RepoStatus
	err := c.get(ctx, "/api/platforms/status", &s)

	return s, err
}

// SwitchBranch checks the platforms repo out on another branch. With
// stash set, local changes are stashed and reapplied instead of
// blocking the switch.
func (c *Client) SwitchBranch(ctx context.Context, branch string, stash bool) (model.SwitchResult, error) {
	handling := "fail"
	if stash {
		handling = "stash"
	}

	var result model.SwitchResult
	err := c.post(ctx, "/api/platforms/switch",
		map[string]string{"branch": branch, "handle_changes": handling}, &result)

	return result, err
}

func (c *Client) UpdatePlatforms(ctx context.Context) error {
	return c.post(ctx, "/api/platforms/update", nil, nil)
}

func (c *Client) ValidateRuncard(ctx context.Context, runcard string) (Validation, error) {
	var v Validation
	err := c.post(ctx, "/api/runcard/validate", map[string]string{"runcard": runcard}, &v)

	return v, err
}

// SubmitRuncard submits an inline runcard for execution.
func (c *Client) SubmitRuncard(ctx context.Context, runcard, environment string) (*model.Experiment, error) {
	var exp model.Experiment
	err := c.post(ctx, "/api/experiments",
		map[string]string{"runcard": runcard, "environment": environment}, &exp)
	if err != nil {
		return nil, err
	}

	return &exp, nil
}

// SubmitRuncardPath submits a runcard that already lives under the
// dashboard's served root.
func (c *Client) SubmitRuncardPath(ctx context.Context, path string) (*model.Experiment, error) {
	var exp model.Experiment
	err := c.post(ctx, "/api/experiments", map[string]string{"runcard_path": path}, &exp)
	if err != nil {
		return nil, err
	}

	return &exp, nil
}

func (c *Client) Experiments(ctx context.Context) ([]model.Experiment, error) {
	var out struct {
		Experiments []model.Experiment `json:"experiments"`
	}
	if err := c.get(ctx, "/api/experiments", &out); err != nil {
		return nil, err
	}

	return out.Experiments, nil
}

func (c *Client) Experiment(ctx context.Context, id string) (model.Experiment, error) {
	var exp model.Experiment
	err := c.get(ctx, "/api/experiments/"+url.PathEscape(id), &exp)

	return exp, err
}

func (c *Client) RepeatExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	var exp model.Experiment
	err := c.post(ctx, "/api/experiments/"+url.PathEscape(id)+"/repeat", nil, &exp)
	if err != nil {
		return nil, err
	}

	return &exp, nil
}

// RepeatReport resubmits the runcard behind a previously generated
// qibocal report.
func (c *Client) RepeatReport(ctx context.Context, reportPath string) (*model.Experiment, error) {
	var exp model.Experiment
	err := c.post(ctx, "/api/experiments/repeat",
		map[string]string{"report_path": reportPath}, &exp)
	if err != nil {
		return nil, err
	}

	return &exp, nil
}

// Listing reads one directory of the served tree.
func (c *Client) Listing(ctx context.Context, rel string, showHidden bool) (*browse.Listing, error) {
	q := url.Values{"format": {"json"}}
	if showHidden {
		q.Set("show_hidden", "true")
	}

	var listing browse.Listing
	err := c.get(ctx, "/files/"+escapePath(rel)+"?"+q.Encode(), &listing)
	if err != nil {
		return nil, err
	}

	return &listing, nil
}

// SaveFile writes a new file under the served root. Existing files are
// never overwritten.
func (c *Client) SaveFile(ctx context.Context, rel string, r io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.Addr+"/files/"+escapePath(rel), r)
	if err != nil {
		return err
	}
	c.authorize(req)

	return c.do(req, nil)
}

// UploadFile stores a file in dir through the multipart upload
// endpoint, which sanitizes the stored name.
func (c *Client) UploadFile(ctx context.Context, dir, filename string, r io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+"/files/"+escapePath(dir), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	return c.do(req, nil)
}

func (c *Client) DeleteFile(ctx context.Context, rel string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.Addr+"/files/"+escapePath(rel), nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	return c.do(req, nil)
}

func (c *Client) authorize(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "auth_cookie", Value: c.Key})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Status == "" {
			apiErr.Status = http.StatusText(resp.StatusCode)
			apiErr.Message = string(bytes.TrimSpace(body))
		}

		return apiErr
	}

	if out == nil {
		return nil
	}

	return json.Unmarshal(body, out)
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(rel string) string {
	return (&url.URL{Path: rel}).EscapedPath()
}
