package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/qiboteam/qdashboard/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePlatforms struct {
	dir       string
	names     []string
	queues    map[string]string
	qubits    map[string]int
	versions  map[string]string
	status    model.RepoStatus
	statusErr error
	listErr   error
}

func (f *fakePlatforms) Dir() string { return f.dir }

func (f *fakePlatforms) List() ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	return f.names, nil
}

func (f *fakePlatforms) Queues() (map[string]string, error) {
	return f.queues, nil
}

func (f *fakePlatforms) QubitCount(platform string) (int, error) {
	n, ok := f.qubits[platform]
	if !ok {
		return 0, errors.New("no platform.py")
	}

	return n, nil
}

func (f *fakePlatforms) PlatformDir(platform string) string {
	return filepath.Join(f.dir, platform)
}

func (f *fakePlatforms) PlatformVersion(platform string) (string, error) {
	v, ok := f.versions[platform]
	if !ok {
		return "", errors.New("no version")
	}

	return v, nil
}

func (f *fakePlatforms) Status(ctx context.Context) (model.RepoStatus, error) {
	return f.status, f.statusErr
}

type fakeCluster struct {
	mu     sync.Mutex
	online map[string]bool
	busy   map[string]bool
	probes int
}

func (f *fakeCluster) PartitionOnline(ctx context.Context, partition string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++

	return f.online[partition]
}

func (f *fakeCluster) PartitionBusy(ctx context.Context, partition string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.busy[partition]
}

func (f *fakeCluster) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.probes
}

type fakeRunner struct {
	mu     sync.Mutex
	script map[string]string
	errs   map[string]error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return "", err
	}

	return f.script[key], nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFleet(t *testing.T) (*fakePlatforms, *fakeCluster) {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "iqm5q", "parameters.json"),
		`{"topology": [[0, 1], [1, 2]]}`)
	writeFile(t, filepath.Join(dir, "iqm5q", "calibration.json"), `{}`)
	writeFile(t, filepath.Join(dir, "qw11q", "parameters.json"),
		`{"topology": [[0, 1], [1, 2], [2, 3]]}`)

	p := &fakePlatforms{
		dir:      dir,
		names:    []string{"iqm5q", "qw11q", "dummy"},
		queues:   map[string]string{"iqm5q": "iqm5q", "qw11q": "qw11q"},
		qubits:   map[string]int{"iqm5q": 5},
		versions: map[string]string{"iqm5q": "0.2.2"},
		status:   model.RepoStatus{Branch: "main", Commit: "abc1234"},
	}
	c := &fakeCluster{
		online: map[string]bool{"iqm5q": true, "qw11q": true},
		busy:   map[string]bool{"qw11q": true},
	}

	return p, c
}

func newTestService(p Platforms, c Cluster, r Runner) *Service {
	return NewService(p, c, r, zap.NewNop().Sugar())
}

func TestSnapshot(t *testing.T) {
	p, c := newFleet(t)
	svc := newTestService(p, c, &fakeRunner{})

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Online)
	assert.Equal(t, "2 / 3", snap.Availability)
	assert.Equal(t, HealthDegraded, snap.Health)
	assert.Equal(t, "main", snap.GitBranch)
	assert.Equal(t, "abc1234", snap.GitCommit)
	assert.Equal(t, p.dir, snap.PlatformsPath)

	require.Len(t, snap.QPUs, 3)

	iqm := snap.QPUs[0]
	assert.Equal(t, "iqm5q", iqm.Name)
	assert.Equal(t, model.StatusOnline, iqm.Status)
	assert.Equal(t, 5, iqm.Qubits)
	assert.Equal(t, "chain", iqm.Topology)
	assert.Equal(t, "0.2.2", iqm.QibolabVersion)
	assert.NotEqual(t, "N/A", iqm.CalibrationTime)

	qw := snap.QPUs[1]
	assert.Equal(t, model.StatusRunning, qw.Status)
	assert.Equal(t, 4, qw.Qubits, "falls back to distinct qubits in the connectivity")
	assert.Equal(t, "chain", qw.Topology)
	assert.Equal(t, "N/A", qw.CalibrationTime)

	dummy := snap.QPUs[2]
	assert.Equal(t, model.StatusOffline, dummy.Status)
	assert.Equal(t, "N/A", dummy.Queue)
	assert.Equal(t, "unknown", dummy.Topology)
	assert.Equal(t, 0, dummy.Qubits)
}

func TestSnapshotCachedWithinTTL(t *testing.T) {
	p, c := newFleet(t)
	svc := newTestService(p, c, &fakeRunner{})

	first, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	probesAfterFirst := c.probeCount()

	second, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.RefreshedAt, second.RefreshedAt)
	assert.Equal(t, probesAfterFirst, c.probeCount())
}

func TestSnapshotInvalidate(t *testing.T) {
	p, c := newFleet(t)
	svc := newTestService(p, c, &fakeRunner{})

	_, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	probesAfterFirst := c.probeCount()

	svc.Invalidate()
	_, err = svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Greater(t, c.probeCount(), probesAfterFirst)
}

func TestSnapshotServesStaleOnError(t *testing.T) {
	p, c := newFleet(t)
	svc := newTestService(p, c, &fakeRunner{})

	first, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	p.listErr = errors.New("checkout vanished")
	svc.Invalidate()

	stale, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.RefreshedAt, stale.RefreshedAt)
}

func TestSnapshotErrorWithoutCache(t *testing.T) {
	p, c := newFleet(t)
	p.listErr = errors.New("checkout vanished")
	svc := newTestService(p, c, &fakeRunner{})

	_, err := svc.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list platforms")
}

func TestHealthOf(t *testing.T) {
	assert.Equal(t, HealthUnknown, healthOf(0, 0))
	assert.Equal(t, HealthGood, healthOf(3, 3))
	assert.Equal(t, HealthDegraded, healthOf(1, 3))
	assert.Equal(t, HealthDown, healthOf(0, 3))
}

func TestVersions(t *testing.T) {
	run := &fakeRunner{
		script: map[string]string{
			"pip show qibo":              "Name: qibo\nVersion: 0.2.12\nSummary: quantum computing framework",
			"python -m pip show qibolab": "Name: qibolab\nVersion: 0.1.10",
			"pip show qibocal":           "Name: qibocal\nSummary: no version line here",
		},
		errs: map[string]error{
			"pip show qibolab": errors.New("pip: command not found"),
		},
	}
	p, c := newFleet(t)
	svc := newTestService(p, c, run)

	versions := svc.Versions(context.Background())
	assert.Equal(t, "0.2.12", versions["qibo"])
	assert.Equal(t, "0.1.10", versions["qibolab"], "falls back to python -m pip")
	assert.Equal(t, "Unknown", versions["qibocal"])

	assert.False(t, svc.QibolabIsNewAPI(context.Background()))

	callsAfterFirst := run.calls
	_ = svc.Versions(context.Background())
	assert.Equal(t, callsAfterFirst, run.calls, "second read is served from cache")
}

func TestVersionsNotInstalled(t *testing.T) {
	run := &fakeRunner{
		errs: map[string]error{
			"pip show qibo":              errors.New("no pip"),
			"python -m pip show qibo":    errors.New("no module pip"),
			"pip show qibolab":           errors.New("no pip"),
			"python -m pip show qibolab": errors.New("no module pip"),
			"pip show qibocal":           errors.New("no pip"),
			"python -m pip show qibocal": errors.New("no module pip"),
		},
	}
	p, c := newFleet(t)
	svc := newTestService(p, c, run)

	versions := svc.Versions(context.Background())
	assert.Equal(t, "Not installed", versions["qibo"])
	assert.Equal(t, "Not installed", versions["qibolab"])
	assert.Equal(t, "Not installed", versions["qibocal"])
}

func TestWatchInvalidates(t *testing.T) {
	p, c := newFleet(t)
	svc := newTestService(p, c, &fakeRunner{})

	require.NoError(t, svc.Watch(p.dir))
	defer svc.Close()

	_, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	writeFile(t, filepath.Join(p.dir, "queues.json"), `{"iqm5q": "iqm5q"}`)

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()

		return svc.snap == nil
	}, 2*time.Second, 10*time.Millisecond, "watcher should drop the cache")
}
