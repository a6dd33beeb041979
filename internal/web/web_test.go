package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qiboteam/qdashboard/internal/browse"
	"github.com/qiboteam/qdashboard/internal/config"
	"github.com/qiboteam/qdashboard/internal/experiments"
	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/monitor"
	"github.com/qiboteam/qdashboard/internal/platforms"
	"github.com/qiboteam/qdashboard/internal/reports"
)

type fakeMonitor struct {
	snap     *monitor.Snapshot
	err      error
	versions map[string]string
	newAPI   bool
}

func (f *fakeMonitor) Snapshot(ctx context.Context) (*monitor.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeMonitor) Versions(ctx context.Context) map[string]string { return f.versions }

func (f *fakeMonitor) QibolabIsNewAPI(ctx context.Context) bool { return f.newAPI }

type fakeQueue struct {
	jobs      []model.Job
	err       error
	cancelled []string
	cancelErr error
}

func (f *fakeQueue) Queue(ctx context.Context) ([]model.Job, error) { return f.jobs, f.err }

func (f *fakeQueue) Cancel(ctx context.Context, jobID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, jobID)

	return nil
}

type fakePlatforms struct {
	dir       string
	names     []string
	namesErr  error
	queues    map[string]string
	branches  model.Branches
	status    model.RepoStatus
	switchRes model.SwitchResult
	switched  []string
	handling  platforms.ChangeHandling
	updated   int
	err       error
}

func (f *fakePlatforms) Dir() string { return f.dir }

func (f *fakePlatforms) List() ([]string, error) { return f.names, f.namesErr }

func (f *fakePlatforms) Queues() (map[string]string, error) { return f.queues, nil }

func (f *fakePlatforms) PlatformDir(platform string) string {
	return filepath.Join(f.dir, platform)
}

func (f *fakePlatforms) Branches(ctx context.Context) (model.Branches, error) {
	return f.branches, f.err
}

func (f *fakePlatforms) Status(ctx context.Context) (model.RepoStatus, error) {
	return f.status, f.err
}

func (f *fakePlatforms) Switch(ctx context.Context, branch string, handling platforms.ChangeHandling) (model.SwitchResult, error) {
	if f.err != nil {
		return model.SwitchResult{}, f.err
	}
	f.switched = append(f.switched, branch)
	f.handling = handling
	res := f.switchRes
	res.Branch = branch

	return res, nil
}

func (f *fakePlatforms) Update(ctx context.Context) error {
	f.updated++

	return f.err
}

type fakeExperiments struct {
	submitted []experiments.SubmitRequest
	repeated  []string
	reports   []string
	exp       *model.Experiment
	err       error
	list      []model.Experiment
	byID      map[string]model.Experiment
}

func (f *fakeExperiments) Submit(ctx context.Context, req experiments.SubmitRequest) (*model.Experiment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, req)

	return f.exp, nil
}

func (f *fakeExperiments) RepeatExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.repeated = append(f.repeated, id)

	return f.exp, nil
}

func (f *fakeExperiments) RepeatReport(ctx context.Context, reportPath string) (*model.Experiment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reports = append(f.reports, reportPath)

	return f.exp, nil
}

func (f *fakeExperiments) Status(ctx context.Context, id string) (model.Experiment, error) {
	exp, ok := f.byID[id]
	if !ok {
		return model.Experiment{}, experiments.ErrNotFound
	}

	return exp, nil
}

func (f *fakeExperiments) List(ctx context.Context) ([]model.Experiment, error) {
	return f.list, f.err
}

type fakeReports struct {
	report *reports.Report
	err    error
	dir    string
	dirErr error
	qq     bool
}

func (f *fakeReports) Latest() (*reports.Report, error) { return f.report, f.err }

func (f *fakeReports) LatestDir() (string, error) { return f.dir, f.dirErr }

func (f *fakeReports) AssetPath(reportDir, ref string) (string, error) {
	p := filepath.Join(reportDir, ref)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}

	return p, nil
}

func (f *fakeReports) QQAvailable(ctx context.Context) bool { return f.qq }

type fakeRunner struct {
	out   string
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))

	return f.out, f.err
}

type testEnv struct {
	app    *App
	router http.Handler
	root   string

	mon   *fakeMonitor
	queue *fakeQueue
	plats *fakePlatforms
	exps  *fakeExperiments
	reps  *fakeReports
	run   *fakeRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	return newTestEnvCfg(t, nil)
}

func newTestEnvCfg(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := config.Config{
		Host:    "127.0.0.1",
		Port:    5005,
		Root:    root,
		AuthKey: "sesame",
		User:    "qops",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	exp := model.Experiment{
		ID:       "exp_689c1a40_3f2b9c01",
		JobID:    "202",
		Platform: "tii1q",
		Type:     model.ExperimentNew,
	}

	env := &testEnv{
		root: root,
		mon: &fakeMonitor{
			snap: &monitor.Snapshot{
				QPUs: []model.QPU{{
					Name:   "tii1q",
					Qubits: 1,
					Status: model.StatusOnline,
					Queue:  "tii1q",
				}},
				Online:        1,
				Total:         1,
				Availability:  "100.0%",
				Health:        monitor.HealthGood,
				GitBranch:     "main",
				GitCommit:     "ab12cd3",
				PlatformsPath: filepath.Join(root, "platforms"),
				RefreshedAt:   time.Now(),
			},
			versions: map[string]string{"qibo": "0.2.12", "qibolab": "0.1.10"},
			newAPI:   true,
		},
		queue: &fakeQueue{
			jobs: []model.Job{{
				ID:          "101",
				Name:        "qq_tii1q",
				User:        "qops",
				State:       "RUNNING",
				Time:        "5:02",
				TimeLimit:   "1:00:00",
				Nodes:       "1",
				Partition:   "tii1q",
				NodeList:    "node01",
				CurrentUser: true,
			}},
		},
		plats: &fakePlatforms{
			dir:      filepath.Join(root, "platforms"),
			names:    []string{"tii1q", "tii3q"},
			queues:   map[string]string{"tii1q": "tii1q", "tii3q": "tii3q"},
			branches: model.Branches{Current: "main", Local: []string{"main"}, Remote: []string{"main", "0.2"}},
			status:   model.RepoStatus{Branch: "main", Commit: "ab12cd3", Clean: true},
		},
		exps: &fakeExperiments{
			exp:  &exp,
			list: []model.Experiment{exp},
			byID: map[string]model.Experiment{exp.ID: exp},
		},
		reps: &fakeReports{
			report: &reports.Report{
				RelPath: "data/tii1q/report",
				Head:    `<style>.qq{color:red}</style>`,
				Body:    `<h1>Calibration report</h1>`,
			},
			dir: filepath.Join(root, "data", "tii1q", "report"),
			qq:  true,
		},
		run: &fakeRunner{out: "Submitted batch job 303"},
	}

	app, err := NewApp(Deps{
		Config:      cfg,
		Log:         zap.NewNop().Sugar(),
		Monitor:     env.mon,
		Queue:       env.queue,
		Platforms:   env.plats,
		Experiments: env.exps,
		Reports:     env.reps,
		Browser:     browse.NewBrowser(root),
		Runner:      env.run,
	})
	require.NoError(t, err)
	t.Cleanup(app.Close)

	env.app = app
	env.router = app.Router()

	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	return rec
}

func TestPagesRender(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path string
		want string
	}{
		{"/", "QPU status"},
		{"/", "qq_tii1q"},
		{"/qpus", "Platforms checkout"},
		{"/qpus", "tii1q"},
		{"/experiments", "Runcard builder"},
		{"/files/", "folders"},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.want, func(t *testing.T) {
			rec := env.do(t, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestDashboardQueueUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = assert.AnError

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SLURM queue unavailable")
}

func TestDashboardSnapshotError(t *testing.T) {
	env := newTestEnv(t)
	env.mon.snap = nil
	env.mon.err = assert.AnError

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLatestReport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Calibration report")
	assert.Contains(t, body, ".qq{color:red}")
	assert.Contains(t, body, "data/tii1q/report")
}

func TestLatestNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.reps.report = nil
	env.reps.err = &reports.NoReportError{
		LastPath: filepath.Join(env.root, "data", "tii1q", "report"),
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "No report yet")
	assert.Contains(t, body, `/files/data/tii1q/report`)
	assert.Contains(t, body, "qq_tii1q")
}

func TestLatestError(t *testing.T) {
	env := newTestEnv(t)
	env.reps.report = nil
	env.reps.err = assert.AnError

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/latest", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error loading report:")
}

func TestReportAsset(t *testing.T) {
	env := newTestEnv(t)
	plotDir := filepath.Join(env.reps.dir, "plots")
	require.NoError(t, os.MkdirAll(plotDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plotDir, "rabi.svg"), []byte("<svg/>"), 0o644))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/report_assets/plots/rabi.svg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/report_assets/plots/missing.svg", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Asset not found")
}

func TestQQSubmitPage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/qqsubmit?qpu=tii1q", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Submitted batch job 303")

	require.Len(t, env.run.calls, 1)
	call := env.run.calls[0]
	assert.Equal(t, "bash", call[0])
	assert.Equal(t, filepath.Join(env.root, "work", "qqsubmit.sh"), call[1])
	assert.Equal(t, "tii1q", call[3])
}

func TestQQSubmitFailureShowsError(t *testing.T) {
	env := newTestEnv(t)
	env.run.out = "some output"
	env.run.err = assert.AnError

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/qqsubmit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "some output")
	assert.Contains(t, body, assert.AnError.Error())
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestAssetsServed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/assets/css/dashboard.css", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ".topbar")
}

func TestBareErrorRespondsGenerically(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	render.Respond(rec, req, assert.AnError)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"status": "error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
