// Package monitor aggregates the per-platform QPU status shown on the
// dashboard. Probing a cluster is slow, so results are cached for a
// short TTL, concurrent refreshes are collapsed and a filesystem watch
// on the platforms checkout drops the cache when calibration data or
// branches change underneath us.
package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/platforms"
	"github.com/qiboteam/qdashboard/internal/topology"
)

// Fleet health buckets.
const (
	HealthGood     = "good"
	HealthDegraded = "degraded"
	HealthDown     = "down"
	HealthUnknown  = "unknown"
)

const (
	// DefaultTTL bounds how stale a served snapshot may be.
	DefaultTTL = 15 * time.Second

	// versionsTTL is generous, installed packages rarely change while
	// the dashboard runs.
	versionsTTL = 5 * time.Minute

	// probeLimit caps concurrent platform inspections.
	probeLimit = 8
)

// trackedPackages are the pip packages whose versions the dashboard
// reports.
var trackedPackages = []string{"qibo", "qibolab", "qibocal"}

// Snapshot is one aggregated view of the fleet.
type Snapshot struct {
	QPUs          []model.QPU `json:"qpus"`
	Online        int         `json:"online"`
	Total         int         `json:"total"`
	Availability  string      `json:"availability"`
	Health        string      `json:"health"`
	GitBranch     string      `json:"gitBranch"`
	GitCommit     string      `json:"gitCommit"`
	PlatformsPath string      `json:"platformsPath"`
	RefreshedAt   time.Time   `json:"refreshedAt"`
}

// Platforms is the slice of the platforms manager the monitor reads.
type Platforms interface {
	Dir() string
	List() ([]string, error)
	Queues() (map[string]string, error)
	QubitCount(platform string) (int, error)
	PlatformDir(platform string) string
	PlatformVersion(platform string) (string, error)
	Status(ctx context.Context) (model.RepoStatus, error)
}

// Cluster probes SLURM partition state.
type Cluster interface {
	PartitionOnline(ctx context.Context, partition string) bool
	PartitionBusy(ctx context.Context, partition string) bool
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Service caches fleet snapshots and package versions.
type Service struct {
	platforms Platforms
	cluster   Cluster
	run       Runner
	log       *zap.SugaredLogger
	ttl       time.Duration

	group singleflight.Group

	mu      sync.Mutex
	snap    *Snapshot
	expires time.Time

	vmu      sync.Mutex
	versions map[string]string
	vexpires time.Time

	watcher *fsnotify.Watcher
}

func NewService(p Platforms, c Cluster, run Runner, log *zap.SugaredLogger) *Service {
	return &Service{
		platforms: p,
		cluster:   c,
		run:       run,
		log:       log,
		ttl:       DefaultTTL,
	}
}

// Snapshot returns the current fleet view, refreshing it when the cache
// has expired. When a refresh fails and an older snapshot exists, the
// stale one is served instead of the error.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	if s.snap != nil && time.Now().Before(s.expires) {
		snap := s.snap
		s.mu.Unlock()

		return snap, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("snapshot", func() (any, error) {
		snap, err := s.refresh(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.snap = snap
		s.expires = time.Now().Add(s.ttl)
		s.mu.Unlock()

		return snap, nil
	})
	if err != nil {
		s.mu.Lock()
		stale := s.snap
		s.mu.Unlock()
		if stale != nil {
			s.log.Warnw("serving stale qpu snapshot", "error", err)

			return stale, nil
		}

		return nil, err
	}

	return v.(*Snapshot), nil
}

// Invalidate drops the cached snapshot so the next request refreshes.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.expires = time.Time{}
	s.mu.Unlock()
}

func (s *Service) refresh(ctx context.Context) (*Snapshot, error) {
	names, err := s.platforms.List()
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}

	queues, err := s.platforms.Queues()
	if err != nil {
		s.log.Warnw("queues.json unreadable, partitions unknown", "error", err)
		queues = map[string]string{}
	}

	snap := &Snapshot{
		QPUs:          make([]model.QPU, len(names)),
		Total:         len(names),
		PlatformsPath: s.platforms.Dir(),
		GitBranch:     "N/A",
		GitCommit:     "N/A",
		RefreshedAt:   time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeLimit)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			snap.QPUs[i] = s.inspect(gctx, name, queues[name])

			return nil
		})
	}
	g.Go(func() error {
		status, err := s.platforms.Status(gctx)
		if err != nil {
			s.log.Debugw("platforms checkout has no git status", "error", err)

			return nil
		}
		snap.GitBranch = status.Branch
		snap.GitCommit = status.Commit

		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, qpu := range snap.QPUs {
		if qpu.Status != model.StatusOffline {
			snap.Online++
		}
	}
	snap.Availability = fmt.Sprintf("%d / %d", snap.Online, snap.Total)
	snap.Health = healthOf(snap.Online, snap.Total)

	return snap, nil
}

// inspect gathers everything the dashboard shows for one platform.
// Probes never fail the snapshot, missing pieces degrade to defaults.
func (s *Service) inspect(ctx context.Context, name, partition string) model.QPU {
	qpu := model.QPU{
		Name:            name,
		Status:          model.StatusOffline,
		Queue:           partition,
		CalibrationTime: "N/A",
	}
	if partition == "" {
		qpu.Queue = "N/A"
	} else if s.partitionOnline(ctx, partition) {
		if s.partitionBusy(ctx, partition) {
			qpu.Status = model.StatusRunning
		} else {
			qpu.Status = model.StatusOnline
		}
	}

	dir := s.platforms.PlatformDir(name)
	conns := topology.Connectivity(dir)
	qpu.Topology = string(topology.Classify(conns))

	if n, err := s.platforms.QubitCount(name); err == nil && n > 0 {
		qpu.Qubits = n
	} else {
		qpu.Qubits = topology.QubitCount(conns)
	}

	if v, err := s.platforms.PlatformVersion(name); err == nil {
		qpu.QibolabVersion = v
	}

	if fi, err := os.Stat(filepath.Join(dir, "calibration.json")); err == nil {
		qpu.CalibrationTime = humanize.Time(fi.ModTime())
	}

	return qpu
}

// partitionOnline collapses concurrent sinfo probes of one partition.
func (s *Service) partitionOnline(ctx context.Context, partition string) bool {
	v, _, _ := s.group.Do("sinfo:"+partition, func() (any, error) {
		return s.cluster.PartitionOnline(ctx, partition), nil
	})

	return v.(bool)
}

// partitionBusy collapses concurrent squeue probes of one partition.
func (s *Service) partitionBusy(ctx context.Context, partition string) bool {
	v, _, _ := s.group.Do("squeue:"+partition, func() (any, error) {
		return s.cluster.PartitionBusy(ctx, partition), nil
	})

	return v.(bool)
}

func healthOf(online, total int) string {
	switch {
	case total == 0:
		return HealthUnknown
	case online == total:
		return HealthGood
	case online > 0:
		return HealthDegraded
	}

	return HealthDown
}

// Versions reports the installed qibo package versions, refreshed every
// few minutes. Failures mark a package as not installed rather than
// erroring, the dashboard renders whatever is known.
func (s *Service) Versions(ctx context.Context) map[string]string {
	s.vmu.Lock()
	if s.versions != nil && time.Now().Before(s.vexpires) {
		versions := s.versions
		s.vmu.Unlock()

		return versions
	}
	s.vmu.Unlock()

	v, _, _ := s.group.Do("versions", func() (any, error) {
		versions := make(map[string]string, len(trackedPackages))
		for _, pkg := range trackedPackages {
			versions[pkg] = s.packageVersion(ctx, pkg)
		}

		s.vmu.Lock()
		s.versions = versions
		s.vexpires = time.Now().Add(versionsTTL)
		s.vmu.Unlock()

		return versions, nil
	})

	return v.(map[string]string)
}

// QibolabIsNewAPI reports whether the installed qibolab speaks the
// >=0.2.0 runcard dialect.
func (s *Service) QibolabIsNewAPI(ctx context.Context) bool {
	return platforms.IsNewAPI(s.Versions(ctx)["qibolab"])
}

// packageVersion shells out to pip, falling back to python -m pip for
// environments where pip is not on PATH.
func (s *Service) packageVersion(ctx context.Context, pkg string) string {
	out, err := s.run.Run(ctx, "pip", "show", pkg)
	if err != nil {
		out, err = s.run.Run(ctx, "python", "-m", "pip", "show", pkg)
		if err != nil {
			return "Not installed"
		}
	}

	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "Version:"); ok {
			return strings.TrimSpace(v)
		}
	}

	return "Unknown"
}

// Watch invalidates the snapshot cache whenever the platforms checkout
// changes on disk. Call Close to stop the watcher.
func (s *Service) Watch(dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("platforms watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()

		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = w
	go s.watchLoop()

	return nil
}

func (s *Service) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.log.Debugw("platforms checkout changed", "op", ev.Op.String(), "path", ev.Name)
			s.Invalidate()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnw("platforms watcher error", "error", err)
		}
	}
}

func (s *Service) Close() error {
	if s.watcher == nil {
		return nil
	}

	return s.watcher.Close()
}
