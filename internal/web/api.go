package web

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/qiboteam/qdashboard/internal/apirequest"
	"github.com/qiboteam/qdashboard/internal/apiresponse"
	"github.com/qiboteam/qdashboard/internal/errresponse"
	"github.com/qiboteam/qdashboard/internal/experiments"
	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/platforms"
	"github.com/qiboteam/qdashboard/internal/protocols"
	"github.com/qiboteam/qdashboard/internal/runcard"
	"github.com/qiboteam/qdashboard/internal/slurm"
	"github.com/qiboteam/qdashboard/internal/topology"
)

func (a *App) apiQPUStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := a.monitor.Snapshot(r.Context())
	if err != nil {
		a.respond(w, r, errresponse.ErrInternal(err))

		return
	}

	render.Respond(w, r, snap)
}

func (a *App) apiVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	render.Respond(w, r, render.M{
		"versions":        a.monitor.Versions(ctx),
		"qibolab_new_api": a.monitor.QibolabIsNewAPI(ctx),
	})
}

func (a *App) apiQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.queue.Queue(r.Context())
	if err != nil {
		a.respond(w, r, errresponse.ErrInternal(err))

		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}

	render.Respond(w, r, render.M{"jobs": jobs, "count": len(jobs)})
}

// cancelJob handles the dashboard's cancel button.
func (a *App) cancelJob(w http.ResponseWriter, r *http.Request) {
	data := &apirequest.CancelRequest{}
	if err := render.Bind(r, data); err != nil {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	a.cancel(w, r, data.JobID)
}

func (a *App) apiCancelJob(w http.ResponseWriter, r *http.Request) {
	a.cancel(w, r, chi.URLParam(r, "jobID"))
}

// cancel backs both cancel endpoints. Malformed ids come back as 400s,
// scancel failures as 500s.
func (a *App) cancel(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := a.queue.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, slurm.ErrBadJobID) {
			a.respond(w, r, errresponse.ErrInvalidRequest(err))
		} else {
			a.respond(w, r, errresponse.ErrInternal(err))
		}

		return
	}

	a.jobsCancelled.Add(r.Context(), 1)
	a.respond(w, r, apiresponse.NewStatusResponse("Job "+jobID+" cancelled"))
}

func (a *App) apiProtocols(w http.ResponseWriter, r *http.Request) {
	render.Respond(w, r, render.M{
		"categories": protocols.Categories(),
		"protocols":  protocols.ByCategory(),
	})
}

// apiValidateRuncard checks a runcard without submitting it. Parse and
// validation problems land in the response body, not in the status.
func (a *App) apiValidateRuncard(w http.ResponseWriter, r *http.Request) {
	data := &apirequest.ValidateRequest{}
	if err := render.Bind(r, data); err != nil {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	rc, err := runcard.Parse([]byte(data.Runcard))
	if err != nil {
		a.respond(w, r, apiresponse.NewValidationResponse([]string{err.Error()}))

		return
	}

	known, err := a.platforms.List()
	if err != nil {
		a.logFor(r).Warnw("platform inventory unavailable", "error", err)
		known = nil
	}

	a.respond(w, r, apiresponse.NewValidationResponse(rc.Validate(known)))
}

func (a *App) apiQPUParameters(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	dir := a.platforms.PlatformDir(platform)
	if _, err := os.Stat(dir); err != nil {
		render.Status(r, http.StatusNotFound)
		render.Respond(w, r, render.M{"error": "QPU not found"})

		return
	}

	summary, err := topology.Parameters(dir)
	if err != nil {
		a.logFor(r).Warnw("read gate parameters", "platform", platform, "error", err)
		render.Status(r, http.StatusNotFound)
		render.Respond(w, r, render.M{"error": "No parameters found for this QPU"})

		return
	}

	render.Respond(w, r, render.M{
		"platform":           platform,
		"single_qubit_gates": summary.SingleQubitGates,
		"two_qubit_gates":    summary.TwoQubitGates,
	})
}

func (a *App) apiQPUTopology(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	dir := a.platforms.PlatformDir(platform)
	if _, err := os.Stat(dir); err != nil {
		render.Status(r, http.StatusNotFound)
		render.Respond(w, r, render.M{"error": "QPU not found"})

		return
	}

	conns := topology.Connectivity(dir)
	if len(conns) == 0 {
		render.Status(r, http.StatusNotFound)
		render.Respond(w, r, render.M{"error": "No connectivity data found for this QPU"})

		return
	}

	kind := topology.Classify(conns)
	if kind == topology.Unknown {
		render.Status(r, http.StatusNotFound)
		render.Respond(w, r, render.M{"error": "Could not determine topology type"})

		return
	}

	render.Respond(w, r, render.M{
		"topology_type":   kind,
		"num_qubits":      topology.QubitCount(conns),
		"num_connections": len(conns),
		"image":           topology.RenderSVG(conns, kind),
	})
}

func (a *App) apiPlatforms(w http.ResponseWriter, r *http.Request) {
	names, err := a.platforms.List()
	if err != nil {
		a.respond(w, r, errresponse.ErrInternal(err))

		return
	}
	if names == nil {
		names = []string{}
	}

	queues, err := a.platforms.Queues()
	if err != nil {
		a.logFor(r).Warnw("partition map unavailable", "error", err)
		queues = map[string]string{}
	}

	render.Respond(w, r, render.M{
		"platforms": names,
		"queues":    queues,
		"path":      a.platforms.Dir(),
	})
}

func (a *App) apiBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.platforms.Branches(r.Context())
	if err != nil {
		a.repoErr(w, r, err)

		return
	}

	render.Respond(w, r, branches)
}

func (a *App) apiRepoStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.platforms.Status(r.Context())
	if err != nil {
		a.repoErr(w, r, err)

		return
	}

	render.Respond(w, r, status)
}

func (a *App) apiSwitch(w http.ResponseWriter, r *http.Request) {
	data := &apirequest.SwitchRequest{}
	if err := render.Bind(r, data); err != nil {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	result, err := a.platforms.Switch(r.Context(), data.Branch, data.Handling())
	if err != nil {
		if errors.Is(err, platforms.ErrLocalChanges) {
			a.respond(w, r, errresponse.ErrConflict(err))
		} else {
			a.repoErr(w, r, err)
		}

		return
	}

	render.Respond(w, r, result)
}

func (a *App) apiUpdate(w http.ResponseWriter, r *http.Request) {
	if err := a.platforms.Update(r.Context()); err != nil {
		a.repoErr(w, r, err)

		return
	}

	a.respond(w, r, apiresponse.NewStatusResponse("Platforms repository updated"))
}

// repoErr distinguishes a missing clone from git failures.
func (a *App) repoErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, platforms.ErrNotRepo) {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	a.respond(w, r, errresponse.ErrInternal(err))
}

func (a *App) apiListExperiments(w http.ResponseWriter, r *http.Request) {
	list, err := a.experiments.List(r.Context())
	if err != nil {
		a.respond(w, r, errresponse.ErrInternal(err))

		return
	}
	if list == nil {
		list = []model.Experiment{}
	}

	render.Respond(w, r, render.M{"experiments": list, "count": len(list)})
}

// apiSubmitExperiment accepts a runcard inline or as a path relative to
// the served root. Paths go through the browser jail, so submissions
// cannot read outside it.
func (a *App) apiSubmitExperiment(w http.ResponseWriter, r *http.Request) {
	data := &apirequest.SubmitExperimentRequest{}
	if err := render.Bind(r, data); err != nil {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	req := experiments.SubmitRequest{Environment: data.Environment}
	switch {
	case data.RuncardPath != "":
		abs, _, err := a.browser.Stat(data.RuncardPath)
		if err != nil {
			a.respond(w, r, errresponse.ErrNotFound)

			return
		}
		req.RuncardPath = abs
	default:
		rc, err := runcard.Parse([]byte(data.Runcard))
		if err != nil {
			a.respond(w, r, errresponse.ErrInvalidRequest(err))

			return
		}
		req.Runcard = rc
	}

	exp, err := a.experiments.Submit(r.Context(), req)
	if err != nil {
		a.experimentErr(w, r, err)

		return
	}

	a.jobsSubmitted.Add(r.Context(), 1)
	render.Status(r, http.StatusCreated)
	render.Respond(w, r, exp)
}

func (a *App) apiRepeatReport(w http.ResponseWriter, r *http.Request) {
	data := &apirequest.RepeatReportRequest{}
	if err := render.Bind(r, data); err != nil {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	exp, err := a.experiments.RepeatReport(r.Context(), data.ReportPath)
	if err != nil {
		a.experimentErr(w, r, err)

		return
	}

	a.jobsSubmitted.Add(r.Context(), 1)
	render.Status(r, http.StatusCreated)
	render.Respond(w, r, exp)
}

// experimentCtx loads the experiment named by the URL into the request
// context, stopping with a 404 when it was never submitted here.
func (a *App) experimentCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exp, err := a.experiments.Status(r.Context(), chi.URLParam(r, "experimentID"))
		if err != nil {
			if errors.Is(err, experiments.ErrNotFound) {
				a.respond(w, r, errresponse.ErrNotFound)
			} else {
				a.respond(w, r, errresponse.ErrInternal(err))
			}

			return
		}

		ctx := context.WithValue(r.Context(), CtxKeyExperiment, exp)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) apiExperimentStatus(w http.ResponseWriter, r *http.Request) {
	exp := r.Context().Value(CtxKeyExperiment).(model.Experiment)

	render.Respond(w, r, exp)
}

func (a *App) apiRepeatExperiment(w http.ResponseWriter, r *http.Request) {
	exp := r.Context().Value(CtxKeyExperiment).(model.Experiment)

	repeated, err := a.experiments.RepeatExperiment(r.Context(), exp.ID)
	if err != nil {
		a.experimentErr(w, r, err)

		return
	}

	a.jobsSubmitted.Add(r.Context(), 1)
	render.Status(r, http.StatusCreated)
	render.Respond(w, r, repeated)
}

// experimentErr maps submission failures onto HTTP errors.
func (a *App) experimentErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *experiments.ValidationError

	switch {
	case errors.As(err, &verr):
		render.Status(r, http.StatusBadRequest)
		render.Respond(w, r, render.M{
			"status":   "error",
			"error":    "invalid runcard",
			"problems": verr.Problems,
		})
	case errors.Is(err, experiments.ErrNotFound):
		a.respond(w, r, errresponse.ErrNotFound)
	default:
		a.respond(w, r, errresponse.ErrInternal(err))
	}
}

// respond renders a Renderer payload, logging when even that fails.
func (a *App) respond(w http.ResponseWriter, r *http.Request, v render.Renderer) {
	if err := render.Render(w, r, v); err != nil {
		a.logFor(r).Errorw(err.Error())
	}
}
