// Package web wires the dashboard services into a chi router: the HTML
// pages, the JSON API under /api and the /files browser.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/zap"

	"github.com/qiboteam/qdashboard/internal/browse"
	"github.com/qiboteam/qdashboard/internal/config"
	"github.com/qiboteam/qdashboard/internal/experiments"
	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/monitor"
	"github.com/qiboteam/qdashboard/internal/platforms"
	"github.com/qiboteam/qdashboard/internal/reports"
)

const ServiceName = "qdashboard"

type CtxKey int8

const (
	CtxKeyLogger CtxKey = iota
	CtxKeyExperiment
)

// Monitor aggregates the QPU fleet state shown on the dashboard.
type Monitor interface {
	Snapshot(ctx context.Context) (*monitor.Snapshot, error)
	Versions(ctx context.Context) map[string]string
	QibolabIsNewAPI(ctx context.Context) bool
}

// Queue is the slice of the SLURM client the handlers use.
type Queue interface {
	Queue(ctx context.Context) ([]model.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// Platforms is the slice of the platforms manager the handlers use.
type Platforms interface {
	Dir() string
	List() ([]string, error)
	Queues() (map[string]string, error)
	PlatformDir(platform string) string
	Branches(ctx context.Context) (model.Branches, error)
	Status(ctx context.Context) (model.RepoStatus, error)
	Switch(ctx context.Context, branch string, handling platforms.ChangeHandling) (model.SwitchResult, error)
	Update(ctx context.Context) error
}

// Experiments submits runcards and answers status questions.
type Experiments interface {
	Submit(ctx context.Context, req experiments.SubmitRequest) (*model.Experiment, error)
	RepeatExperiment(ctx context.Context, id string) (*model.Experiment, error)
	RepeatReport(ctx context.Context, reportPath string) (*model.Experiment, error)
	Status(ctx context.Context, id string) (model.Experiment, error)
	List(ctx context.Context) ([]model.Experiment, error)
}

// Reports locates and renders qibocal reports.
type Reports interface {
	Latest() (*reports.Report, error)
	LatestDir() (string, error)
	AssetPath(reportDir, ref string) (string, error)
	QQAvailable(ctx context.Context) bool
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// App holds the handlers' dependencies.
type App struct {
	cfg config.Config
	log *zap.SugaredLogger

	monitor     Monitor
	queue       Queue
	platforms   Platforms
	experiments Experiments
	reports     Reports
	browser     *browse.Browser
	run         Runner

	templateCache *template.Template

	pagesRendered metric.BoundInt64Counter
	jobsCancelled metric.BoundInt64Counter
	jobsSubmitted metric.BoundInt64Counter
}

// Deps carries everything an App needs.
type Deps struct {
	Config      config.Config
	Log         *zap.SugaredLogger
	Monitor     Monitor
	Queue       Queue
	Platforms   Platforms
	Experiments Experiments
	Reports     Reports
	Browser     *browse.Browser
	Runner      Runner
}

// NewApp parses the embedded templates and binds the metric counters.
// Counters come from the global meter, so without a provider installed
// in main they are no-ops.
func NewApp(d Deps) (*App, error) {
	tc, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	meter := global.Meter(ServiceName)
	service := attribute.String("service", ServiceName)

	return &App{
		cfg:           d.Config,
		log:           d.Log,
		monitor:       d.Monitor,
		queue:         d.Queue,
		platforms:     d.Platforms,
		experiments:   d.Experiments,
		reports:       d.Reports,
		browser:       d.Browser,
		run:           d.Runner,
		templateCache: tc,
		pagesRendered: metric.Must(meter).NewInt64Counter(
			"http/pages/rendered_count",
			metric.WithDescription("Count of HTML pages rendered"),
		).Bind(service),
		jobsCancelled: metric.Must(meter).NewInt64Counter(
			"slurm/jobs/cancelled_count",
			metric.WithDescription("Count of accepted scancel requests"),
		).Bind(service),
		jobsSubmitted: metric.Must(meter).NewInt64Counter(
			"experiments/submitted_count",
			metric.WithDescription("Count of accepted experiment submissions"),
		).Bind(service),
	}, nil
}

// Close releases the bound metric instruments.
func (a *App) Close() {
	a.pagesRendered.Unbind()
	a.jobsCancelled.Unbind()
	a.jobsSubmitted.Unbind()
}

// Router assembles the full route tree.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(a.Logger)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", a.dashboardPage)
	r.Get("/qpus", a.qpusPage)
	r.Get("/experiments", a.experimentsPage)
	r.Get("/qqsubmit", a.qqsubmitPage)
	r.Get("/latest", a.latestPage)
	r.Get("/report_assets/*", a.reportAsset)
	r.Post("/cancel_job", a.cancelJob)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("pong")); err != nil {
			a.logFor(r).Errorw(err.Error())
		}
	})

	r.Route("/files", func(r chi.Router) {
		r.Get("/", a.browseGet)
		r.Get("/*", a.browseGet)
		r.Put("/*", a.browsePut)
		r.Post("/", a.browsePost)
		r.Post("/*", a.browsePost)
		r.Delete("/*", a.browseDelete)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.URLFormat)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/qpu_status", a.apiQPUStatus)
		r.Get("/versions", a.apiVersions)
		r.Get("/queue", a.apiQueue)
		r.Delete("/queue/{jobID}", a.apiCancelJob)
		r.Get("/protocols", a.apiProtocols)
		r.Post("/runcard/validate", a.apiValidateRuncard)
		r.Get("/qpu_parameters/{platform}", a.apiQPUParameters)
		r.Get("/qpu_topology/{platform}", a.apiQPUTopology)

		r.Route("/platforms", func(r chi.Router) {
			r.Get("/", a.apiPlatforms)
			r.Get("/branches", a.apiBranches)
			r.Get("/status", a.apiRepoStatus)
			r.Post("/switch", a.apiSwitch)
			r.Post("/update", a.apiUpdate)
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", a.apiListExperiments)
			r.Post("/", a.apiSubmitExperiment)
			r.Post("/repeat", a.apiRepeatReport)

			r.Route("/{experimentID}", func(r chi.Router) {
				r.Use(a.experimentCtx)
				r.Get("/", a.apiExperimentStatus)
				r.Post("/repeat", a.apiRepeatExperiment)
			})
		})
	})

	FileServer(r, "/assets", Assets())

	return r
}

// Logger injects the request-scoped logger into the context.
func (a *App) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := a.log
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			log = log.With("requestId", reqID)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CtxKeyLogger, log)))
	})
}

// logFor returns the logger the middleware put on the context.
func (a *App) logFor(r *http.Request) *zap.SugaredLogger {
	if log, ok := r.Context().Value(CtxKeyLogger).(*zap.SugaredLogger); ok {
		return log
	}

	return a.log
}

func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit any URL parameters.")
	}

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		pathPrefix := strings.TrimSuffix(rctx.RoutePattern(), "/*")
		fs := http.StripPrefix(pathPrefix, http.FileServer(root))
		fs.ServeHTTP(w, r)
	})
}

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// Assets returns the embedded static files as an http.FileSystem.
func Assets() http.FileSystem {
	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	return http.FS(fsys)
}

// nolint
func init() {
	render.Respond = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		if err, ok := v.(error); ok {
			// We set a default error status response code if one hasn't
			// been set.
			if _, ok := r.Context().Value(render.StatusCtxKey).(int); !ok {
				w.WriteHeader(400)
			}

			zap.S().Errorw("handler responded with a bare error", "error", err)

			// We change the response to not reveal the actual error
			// message, instead we can transform the message to something
			// friendlier.
			render.DefaultResponder(w, r, render.M{"status": "error"})

			return
		}

		render.DefaultResponder(w, r, v)
	}
}
