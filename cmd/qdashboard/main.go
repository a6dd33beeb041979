// QDashboard serves a monitoring and submission dashboard for a
// quantum computing lab: QPU fleet status, the SLURM queue, a runcard
// builder for qibocal experiments, calibration reports and a file
// browser over the served root.
//
// Boot the server:
//
//	$ qdashboard -port 5005 -root ~/lab
//
// Settings come from QD_* environment variables, flags override them.
// Passing -routes prints the generated route documentation and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/docgen"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric/global"
	export "go.opentelemetry.io/otel/sdk/export/metric"
	"go.opentelemetry.io/otel/sdk/metric/aggregator/histogram"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	selector "go.opentelemetry.io/otel/sdk/metric/selector/simple"

	"github.com/qiboteam/qdashboard/internal/browse"
	"github.com/qiboteam/qdashboard/internal/config"
	"github.com/qiboteam/qdashboard/internal/experiments"
	"github.com/qiboteam/qdashboard/internal/monitor"
	"github.com/qiboteam/qdashboard/internal/platforms"
	"github.com/qiboteam/qdashboard/internal/reports"
	"github.com/qiboteam/qdashboard/internal/shell"
	"github.com/qiboteam/qdashboard/internal/slurm"
	"github.com/qiboteam/qdashboard/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qdashboard: %v\n", err)
		os.Exit(1)
	}

	var (
		host     = flag.String("host", cfg.Host, "bind address")
		port     = flag.Int("port", cfg.Port, "listen port")
		root     = flag.String("root", cfg.Root, "served root directory")
		authKey  = flag.String("auth-key", cfg.AuthKey, "file browser write key")
		debug    = flag.Bool("debug", cfg.Debug, "verbose logging")
		diagAddr = flag.String("diag_addr", getEnv("QD_DIAG_ADDR", ":9990"), "diagnostics port")
		routes   = flag.Bool("routes", false, "print route documentation and exit")
	)

	flag.Parse()
	cfg.Host, cfg.Port, cfg.Root, cfg.AuthKey, cfg.Debug = *host, *port, *root, *authKey, *debug

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qdashboard: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // flushes buffer, if any
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if err := cfg.Validate(); err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}
	if err := cfg.EnsureLayout(); err != nil {
		sugar.Fatalf("prepare working directories: %v", err)
	}

	promConfig := prometheus.Config{}
	c := controller.New(
		processor.New(
			selector.NewWithHistogramDistribution(
				histogram.WithExplicitBoundaries(promConfig.DefaultHistogramBoundaries),
			),
			export.CumulativeExportKindSelector(),
			processor.WithMemory(true),
		),
	)
	exporter, err := prometheus.New(promConfig, c)
	if err != nil {
		sugar.Panicf("failed to initialize prometheus exporter %v", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := shell.NewRunner(sugar)
	cluster := slurm.NewClient(run, cfg.User)
	manager := platforms.NewManager(cfg.PlatformsDir(), run, sugar)
	if err := manager.Ensure(ctx); err != nil {
		sugar.Warnw("platforms checkout unavailable", "dir", cfg.PlatformsDir(), "error", err)
	}

	mon := monitor.NewService(manager, cluster, run, sugar)
	if err := mon.Watch(cfg.PlatformsDir()); err != nil {
		sugar.Warnw("platforms watch disabled", "error", err)
	}
	defer mon.Close()

	app, err := web.NewApp(web.Deps{
		Config:      cfg,
		Log:         sugar,
		Monitor:     mon,
		Queue:       cluster,
		Platforms:   manager,
		Experiments: experiments.NewService(cfg, manager, cluster, sugar),
		Reports:     reports.NewService(cfg.Root, cfg.DataDir(), cfg.LastReportFile(), run, sugar),
		Browser:     browse.NewBrowser(cfg.Root),
		Runner:      run,
	})
	if err != nil {
		sugar.Fatalf("build application: %v", err)
	}
	defer app.Close()

	r := app.Router()

	if *routes {
		fmt.Println(docgen.MarkdownRoutesDoc(r, docgen.MarkdownOpts{
			ProjectPath: "github.com/qiboteam/qdashboard",
			Intro:       "QDashboard HTTP routes.",
		}))

		return
	}

	banner(cfg)

	diagRouter := chi.NewRouter()
	diagRouter.Get("/metrics", exporter.ServeHTTP)

	srv := &http.Server{Addr: cfg.Addr(), Handler: r}
	diagSrv := &http.Server{Addr: *diagAddr, Handler: diagRouter}

	go func() {
		if err := diagSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("diagnostics server", "error", err)
		}
	}()

	go func() {
		sugar.Infow("dashboard listening", "addr", cfg.Addr(), "root", cfg.Root)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("dashboard server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("dashboard shutdown", "error", err)
	}
	if err := diagSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("diagnostics shutdown", "error", err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// banner mirrors what operators expect to see on a lab console.
func banner(cfg config.Config) {
	fmt.Println("QDashboard - Quantum Computing Dashboard")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Server running on: http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("Serving directory: %s\n", cfg.Root)
	if cfg.AuthKey != "" {
		fmt.Printf("Authentication key: %s\n", cfg.AuthKey)
	}
	fmt.Println("Press Ctrl+C to stop the server")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}
