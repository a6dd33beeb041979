// Package experiments submits qibocal runcards to SLURM and tracks
// what came back. Every submission gets its own directory under the
// data dir holding the runcard, the generated job script, the metadata
// file and eventually the qq output.
package experiments

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/qiboteam/qdashboard/internal/config"
	"github.com/qiboteam/qdashboard/internal/model"
	"github.com/qiboteam/qdashboard/internal/runcard"
)

const (
	metadataFile = "experiment_metadata.json"
	runcardFile  = "runcard.yml"
	scriptFile   = "job_script.sh"
	outputDir    = "output"
)

// Experiments no squeue row knows about anymore.
const (
	StateCompleted = "COMPLETED"
	StateFinished  = "FINISHED"
)

// ErrNotFound marks lookups of experiments that were never submitted
// here or whose directory is gone.
var ErrNotFound = errors.New("experiment not found")

// timeNow is stubbed in tests.
var timeNow = time.Now

// ValidationError carries every problem found in a submitted runcard.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid runcard: " + strings.Join(e.Problems, "; ")
}

// PlatformSource resolves platforms and their SLURM partitions.
type PlatformSource interface {
	List() ([]string, error)
	Partition(platform string) (string, error)
}

// Slurm is the slice of the SLURM client submissions need.
type Slurm interface {
	Submit(ctx context.Context, scriptPath string) (string, error)
	JobStates(ctx context.Context) (map[string]string, error)
}

// Service owns the experiment directory tree.
type Service struct {
	root         string
	dataDir      string
	logsDir      string
	platformsDir string
	lastReport   string
	defaultEnv   string
	platforms    PlatformSource
	slurm        Slurm
	log          *zap.SugaredLogger
}

func NewService(cfg config.Config, platforms PlatformSource, slurm Slurm, log *zap.SugaredLogger) *Service {
	return &Service{
		root:         cfg.Root,
		dataDir:      cfg.DataDir(),
		logsDir:      cfg.LogsDir(),
		platformsDir: cfg.PlatformsDir(),
		lastReport:   cfg.LastReportFile(),
		defaultEnv:   cfg.Environment,
		platforms:    platforms,
		slurm:        slurm,
		log:          log,
	}
}

// NewID builds an experiment id from the submission time and a digest
// of the platform and runcard bytes, e.g. exp_689c1a40_3f2b9c01.
func NewID(platform string, runcardBytes []byte) string {
	ts := timeNow().Unix()

	hasher := md5.New()
	hasher.Write([]byte(platform))
	hasher.Write([]byte(strconv.FormatInt(ts, 10)))
	hasher.Write(runcardBytes)
	digest := hex.EncodeToString(hasher.Sum(nil))[:8]

	return fmt.Sprintf("exp_%08x_%s", ts, digest)
}

// SubmitRequest names the runcard to run, by path or by value.
// Exactly one of RuncardPath and Runcard must be set.
type SubmitRequest struct {
	RuncardPath string
	Runcard     *runcard.Runcard

	// Environment overrides the runcard's and the configured default.
	Environment string
}

// Submit validates the runcard, lays out the experiment directory and
// hands the generated job script to sbatch. The returned experiment is
// the persisted metadata.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Experiment, error) {
	if req.RuncardPath == "" && req.Runcard == nil {
		return nil, errors.New("either a runcard path or runcard data must be provided")
	}
	if req.RuncardPath != "" && req.Runcard != nil {
		return nil, errors.New("cannot provide both a runcard path and runcard data")
	}

	var (
		rc      *runcard.Runcard
		payload []byte
		err     error
		source  = "runcard_data"
	)
	if req.RuncardPath != "" {
		source = "runcard_path"
		payload, err = os.ReadFile(req.RuncardPath)
		if err != nil {
			return nil, fmt.Errorf("runcard not found: %s", req.RuncardPath)
		}
		rc, err = runcard.Parse(payload)
		if err != nil {
			return nil, err
		}
	} else {
		rc = req.Runcard
		payload, err = rc.Bytes()
		if err != nil {
			return nil, err
		}
	}

	known, err := s.platforms.List()
	if err != nil {
		s.log.Warnw("platform list unavailable, validating runcard without it", "error", err)
		known = nil
	}
	if problems := rc.Validate(known); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	return s.submit(ctx, rc, payload, req.Environment, model.Experiment{
		Type:   model.ExperimentNew,
		Source: source,
	})
}

// RepeatReport resubmits the runcard stored alongside a finished
// report. reportPath is resolved against the served root, the way
// report links are rendered.
func (s *Service) RepeatReport(ctx context.Context, reportPath string) (*model.Experiment, error) {
	full := filepath.Join(s.root, strings.TrimPrefix(reportPath, "/"))
	if _, err := os.Stat(full); err != nil {
		return nil, fmt.Errorf("%w: report path %s", ErrNotFound, reportPath)
	}

	return s.repeatFrom(ctx, full)
}

// RepeatExperiment resubmits a previously submitted experiment under a
// fresh id.
func (s *Service) RepeatExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	exp, err := s.load(id)
	if err != nil {
		return nil, err
	}

	return s.repeatFrom(ctx, exp.Dir)
}

func (s *Service) repeatFrom(ctx context.Context, sourceDir string) (*model.Experiment, error) {
	runcardPath, err := findRuncard(sourceDir)
	if err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(runcardPath)
	if err != nil {
		return nil, fmt.Errorf("read runcard: %w", err)
	}
	rc, err := runcard.Parse(payload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rc.Platform) == "" {
		return nil, errors.New("no platform specified in runcard")
	}

	return s.submit(ctx, rc, payload, "", model.Experiment{
		Type:           model.ExperimentRepeat,
		OriginalReport: sourceDir,
	})
}

// submit is the shared tail of a submission: directory layout, job
// script, sbatch, metadata, last report pointer.
func (s *Service) submit(ctx context.Context, rc *runcard.Runcard, payload []byte, environment string, seed model.Experiment) (*model.Experiment, error) {
	id := NewID(rc.Platform, payload)
	expDir := filepath.Join(s.dataDir, id)
	outDir := filepath.Join(expDir, outputDir)
	for _, dir := range []string{expDir, outDir, s.logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	runcardPath := filepath.Join(expDir, runcardFile)
	if err := os.WriteFile(runcardPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write runcard: %w", err)
	}

	partition := rc.Partition
	if partition == "" {
		if partition, _ = s.platforms.Partition(rc.Platform); partition == "" {
			return nil, fmt.Errorf("no partition specified and none configured for platform %s", rc.Platform)
		}
	}

	if environment == "" {
		environment = rc.Environment
	}
	if environment == "" {
		environment = s.defaultEnv
	}

	if seed.Type == model.ExperimentRepeat {
		if err := s.backupParameters(seed.OriginalReport, expDir); err != nil {
			s.log.Warnw("could not back up report parameters", "report", seed.OriginalReport, "error", err)
		}
	}

	scriptPath, err := s.writeJobScript(jobScriptParams{
		ID:            id,
		Platform:      rc.Platform,
		Partition:     partition,
		Environment:   environment,
		PlatformsBase: s.platformsDir,
		ExperimentDir: expDir,
		OutputDir:     outDir,
		RuncardPath:   runcardPath,
		LogsDir:       s.logsDir,
	})
	if err != nil {
		return nil, err
	}

	jobID, err := s.slurm.Submit(ctx, scriptPath)
	if err != nil {
		return nil, fmt.Errorf("submit experiment %s: %w", id, err)
	}

	exp := seed
	exp.ID = id
	exp.JobID = jobID
	exp.Platform = rc.Platform
	exp.Partition = partition
	exp.Environment = environment
	exp.SubmittedAt = timeNow().Unix()
	exp.Dir = expDir
	exp.OutputDir = outDir
	exp.RuncardPath = runcardPath
	exp.ScriptPath = scriptPath

	if err := s.writeMetadata(expDir, &exp); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.lastReport, []byte(outDir), 0o644); err != nil {
		s.log.Warnw("could not update last report pointer", "error", err)
	}

	s.log.Infow("experiment submitted", "id", id, "job", jobID, "platform", rc.Platform, "partition", partition)

	return &exp, nil
}

// Status returns one experiment's metadata decorated with its output
// state and, when the queue is reachable, its live SLURM state.
func (s *Service) Status(ctx context.Context, id string) (model.Experiment, error) {
	exp, err := s.load(id)
	if err != nil {
		return model.Experiment{}, err
	}
	s.decorate(&exp, s.queueStates(ctx))

	return exp, nil
}

// List returns every stored experiment, newest submissions first.
// Directories without readable metadata are skipped.
func (s *Service) List(ctx context.Context) ([]model.Experiment, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Experiment{}, nil
		}

		return nil, fmt.Errorf("read experiments dir: %w", err)
	}

	states := s.queueStates(ctx)

	experiments := []model.Experiment{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, err := s.load(entry.Name())
		if err != nil {
			continue
		}
		s.decorate(&exp, states)
		experiments = append(experiments, exp)
	}

	sort.Slice(experiments, func(i, j int) bool {
		if experiments[i].SubmittedAt != experiments[j].SubmittedAt {
			return experiments[i].SubmittedAt > experiments[j].SubmittedAt
		}

		return experiments[i].ID > experiments[j].ID
	})

	return experiments, nil
}

func (s *Service) load(id string) (model.Experiment, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return model.Experiment{}, fmt.Errorf("experiment %q: %w", id, ErrNotFound)
	}

	b, err := os.ReadFile(filepath.Join(s.dataDir, id, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Experiment{}, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
		}

		return model.Experiment{}, fmt.Errorf("read metadata of %s: %w", id, err)
	}

	var exp model.Experiment
	if err := json.Unmarshal(b, &exp); err != nil {
		return model.Experiment{}, fmt.Errorf("parse metadata of %s: %w", id, err)
	}

	return exp, nil
}

// decorate fills the inspection fields. A nil states map means the
// queue was unreachable and the live state stays unknown.
func (s *Service) decorate(exp *model.Experiment, states map[string]string) {
	exp.OutputFiles = []string{}
	if entries, err := os.ReadDir(exp.OutputDir); err == nil {
		exp.HasOutput = true
		for _, entry := range entries {
			exp.OutputFiles = append(exp.OutputFiles, entry.Name())
		}
	}

	_, err := os.Stat(filepath.Join(exp.Dir, "logs", "slurm_output.log"))
	exp.HasSlurmLog = err == nil

	if states == nil {
		return
	}
	if state, ok := states[exp.JobID]; ok && exp.JobID != "" {
		exp.QueueState = state

		return
	}
	if len(exp.OutputFiles) > 0 {
		exp.QueueState = StateCompleted
	} else {
		exp.QueueState = StateFinished
	}
}

func (s *Service) queueStates(ctx context.Context) map[string]string {
	states, err := s.slurm.JobStates(ctx)
	if err != nil {
		s.log.Debugw("squeue unavailable, experiment states unmerged", "error", err)

		return nil
	}

	return states
}

func (s *Service) writeMetadata(expDir string, exp *model.Experiment) error {
	b, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(expDir, metadataFile), b, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// backupParameters keeps the calibration the original report ran with.
func (s *Service) backupParameters(reportDir, expDir string) error {
	b, err := os.ReadFile(filepath.Join(reportDir, "parameters.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	return os.WriteFile(filepath.Join(expDir, "original_parameters.json"), b, 0o644)
}

func findRuncard(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read report dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "runcard") && strings.HasSuffix(name, ".yml") {
			return filepath.Join(dir, name), nil
		}
	}

	return "", fmt.Errorf("no runcard.yml file found in %s", dir)
}

type jobScriptParams struct {
	ID            string
	Platform      string
	Partition     string
	Environment   string
	PlatformsBase string
	ExperimentDir string
	OutputDir     string
	RuncardPath   string
	LogsDir       string
}

var jobScriptTmpl = template.Must(template.New(scriptFile).Parse(`#!/bin/bash
#SBATCH --job-name={{.ID}}
#SBATCH --partition={{.Partition}}
#SBATCH --output={{.LogsDir}}/slurm_output.log
#SBATCH --error={{.LogsDir}}/slurm_error.log
#SBATCH --time=01:00:00

# Set environment variables
export QIBOLAB_PLATFORMS={{.PlatformsBase}}
export QIBO_PLATFORM={{.Platform}}

# Log job information
echo "Job ID: $SLURM_JOB_ID"
echo "Experiment ID: {{.ID}}"
echo "Platform: {{.Platform}}"
echo "Partition: {{.Partition}}"
echo "Start time: $(date)"
echo "Working directory: $(pwd)"
echo "Output directory: {{.OutputDir}}"

# Change to experiment directory
cd {{.ExperimentDir}}

# Activate environment if specified
{{if .Environment}}source ~/.env/{{.Environment}}/bin/activate{{else}}# No environment specified{{end}}

# Run the experiment
echo "Running experiment..."
qq run {{.RuncardPath}} -o {{.OutputDir}} -f --no-update

# Log completion
echo "End time: $(date)"
echo "Exit code: $?"

exit 0
`))

func (s *Service) writeJobScript(params jobScriptParams) (string, error) {
	var buf strings.Builder
	if err := jobScriptTmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render job script: %w", err)
	}

	path := filepath.Join(params.ExperimentDir, scriptFile)
	if err := os.WriteFile(path, []byte(buf.String()), 0o755); err != nil {
		return "", fmt.Errorf("write job script: %w", err)
	}

	return path, nil
}
