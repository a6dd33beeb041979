package web

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/monitor"
	"github.com/qiboteam/qdashboard/internal/protocols"
	"github.com/qiboteam/qdashboard/internal/reports"
	"github.com/qiboteam/qdashboard/internal/slurm"
)

func (a *App) dashboardPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := a.monitor.Snapshot(ctx)
	if err != nil {
		a.pageError(w, r, "load qpu snapshot", err)

		return
	}

	var queueError string
	jobs, err := a.queue.Queue(ctx)
	if err != nil {
		a.logFor(r).Warnw("queue unavailable", "error", err)
		queueError = "SLURM queue unavailable"
	}

	logText := slurm.Output(a.cfg.SlurmLogPath())
	hasLogError, logMessage := slurm.ScanForErrors(logText)

	a.renderPage(w, r, "dashboard.html", struct {
		Title       string
		Versions    map[string]string
		Snapshot    *monitor.Snapshot
		Jobs        []model.Job
		QueueError  string
		SlurmLog    string
		LogHasError bool
		LogMessage  string
	}{
		Title:       "Dashboard",
		Versions:    a.monitor.Versions(ctx),
		Snapshot:    snap,
		Jobs:        jobs,
		QueueError:  queueError,
		SlurmLog:    logText,
		LogHasError: hasLogError,
		LogMessage:  logMessage,
	})
}

func (a *App) qpusPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := a.monitor.Snapshot(ctx)
	if err != nil {
		a.pageError(w, r, "load qpu snapshot", err)

		return
	}

	a.renderPage(w, r, "qpus.html", struct {
		Title    string
		Versions map[string]string
		Snapshot *monitor.Snapshot
	}{
		Title:    "QPUs",
		Versions: a.monitor.Versions(ctx),
		Snapshot: snap,
	})
}

func (a *App) experimentsPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := a.platforms.List()
	if err != nil {
		a.logFor(r).Warnw("platform inventory unavailable", "error", err)
		names = nil
	}

	a.renderPage(w, r, "experiments.html", struct {
		Title      string
		Versions   map[string]string
		Platforms  []string
		Categories []string
		Protocols  map[string][]protocols.Protocol
		NewAPI     bool
	}{
		Title:      "Experiments",
		Versions:   a.monitor.Versions(ctx),
		Platforms:  names,
		Categories: protocols.Categories(),
		Protocols:  protocols.ByCategory(),
		NewAPI:     a.monitor.QibolabIsNewAPI(ctx),
	})
}

// qqsubmitPage runs the legacy submission helper at
// <root>/work/qqsubmit.sh and shows whatever it printed.
func (a *App) qqsubmitPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qpu := r.URL.Query().Get("qpu")

	home, err := os.UserHomeDir()
	if err != nil {
		home = a.cfg.Root
	}

	script := filepath.Join(a.cfg.Root, "work", "qqsubmit.sh")
	out, err := a.run.Run(ctx, "bash", script, home, qpu)
	if err != nil {
		a.logFor(r).Warnw("qqsubmit helper failed", "qpu", qpu, "error", err)
		if out != "" {
			out += "\n"
		}
		out += err.Error()
	}

	a.renderPage(w, r, "job_submission.html", struct {
		Title    string
		Versions map[string]string
		QPU      string
		Output   string
	}{
		Title:    "Job submitted",
		Versions: a.monitor.Versions(ctx),
		QPU:      qpu,
		Output:   out,
	})
}

func (a *App) latestPage(w http.ResponseWriter, r *http.Request) {
	rep, err := a.reports.Latest()
	if err != nil {
		var noRep *reports.NoReportError
		if errors.As(err, &noRep) {
			a.latestNotFound(w, r, noRep.LastPath)

			return
		}

		a.logFor(r).Errorw("load latest report", "error", err)
		http.Error(w, "Error loading report: "+err.Error(), http.StatusInternalServerError)

		return
	}

	a.renderPage(w, r, "report.html", struct {
		Title    string
		Versions map[string]string
		RelPath  string
		Head     template.HTML
		Body     template.HTML
	}{
		Title:    "Latest report",
		Versions: a.monitor.Versions(r.Context()),
		RelPath:  rep.RelPath,
		Head:     template.HTML(rep.Head),
		Body:     template.HTML(rep.Body),
	})
}

// latestNotFound renders the diagnostics shown while no report is ready:
// the queue, the tail of the SLURM log and where the last report was
// expected to appear.
func (a *App) latestNotFound(w http.ResponseWriter, r *http.Request, lastPath string) {
	ctx := r.Context()

	jobs, err := a.queue.Queue(ctx)
	if err != nil {
		a.logFor(r).Warnw("queue unavailable", "error", err)
	}

	logText := slurm.Output(a.cfg.SlurmLogPath())
	hasError, errorMessage := slurm.ScanForErrors(logText)

	var browsePath string
	if lastPath != "" {
		browsePath = "/" + strings.TrimLeft(strings.TrimPrefix(lastPath, a.cfg.Root), "/")
	}

	a.renderPage(w, r, "latest_not_found.html", struct {
		Title        string
		Versions     map[string]string
		HasError     bool
		ErrorMessage string
		LastPath     string
		Jobs         []model.Job
		SlurmLog     string
		QQAvailable  bool
	}{
		Title:        "No report yet",
		Versions:     a.monitor.Versions(ctx),
		HasError:     hasError,
		ErrorMessage: errorMessage,
		LastPath:     browsePath,
		Jobs:         jobs,
		SlurmLog:     logText,
		QQAvailable:  a.reports.QQAvailable(ctx),
	})
}

// reportAsset serves plots and data files referenced by the re-hosted
// report, resolved inside the latest report's directory only.
func (a *App) reportAsset(w http.ResponseWriter, r *http.Request) {
	dir, err := a.reports.LatestDir()
	if err != nil {
		http.Error(w, "Asset not found", http.StatusNotFound)

		return
	}

	ref := wildcard(r)
	asset, err := a.reports.AssetPath(dir, ref)
	if err != nil {
		http.Error(w, "Asset not found", http.StatusNotFound)

		return
	}

	http.ServeFile(w, r, asset)
}

// wildcard returns the decoded tail of a /prefix/* route.
func wildcard(r *http.Request) string {
	tail := chi.URLParam(r, "*")
	if dec, err := url.PathUnescape(tail); err == nil {
		tail = dec
	}

	return tail
}

// renderPage executes one of the cached templates straight to the
// response.
func (a *App) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	tmpl := a.templateCache.Lookup(name)
	if tmpl == nil {
		a.logFor(r).Errorw("template missing", "template", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	a.pagesRendered.Add(r.Context(), 1)

	if err := tmpl.Execute(w, data); err != nil {
		a.logFor(r).Errorw("render page", "template", name, "error", err)
	}
}

// pageError is the plain-text 500 for page handlers, which carry no
// JSON contract.
func (a *App) pageError(w http.ResponseWriter, r *http.Request, what string, err error) {
	a.logFor(r).Errorw(what, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
