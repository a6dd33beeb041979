// Package slurm wraps the SLURM command line tools used by the
// dashboard: squeue, sinfo, scancel and sbatch.
package slurm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/qiboteam/qdashboard/internal/model"
)

// ErrBadJobID rejects job ids that are not plain numbers or array steps.
// Guards scancel from ever seeing shell metacharacters.
var ErrBadJobID = errors.New("invalid job id")

// queueFormat matches the column layout the queue parser expects.
// %.8u truncates usernames, which matchesUser compensates for.
const queueFormat = "%i %.18j %.8u %.8T %.10M %.9l %.6D %P %R"

// simPartition rows are simulator jobs and stay off the dashboard.
const simPartition = "sim"

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Client talks to a SLURM cluster on behalf of one user.
type Client struct {
	run  Runner
	user string
}

func NewClient(run Runner, user string) *Client {
	return &Client{run: run, user: user}
}

// Queue returns the cluster queue, skipping simulation partition rows.
func (c *Client) Queue(ctx context.Context) ([]model.Job, error) {
	out, err := c.run.Run(ctx, "squeue", "--format="+queueFormat, "--noheader")
	if err != nil {
		return nil, fmt.Errorf("squeue: %w", err)
	}

	return parseQueue(out, c.user), nil
}

// JobStates maps every queued job id to its SLURM state.
func (c *Client) JobStates(ctx context.Context) (map[string]string, error) {
	jobs, err := c.Queue(ctx)
	if err != nil {
		return nil, err
	}

	states := make(map[string]string, len(jobs))
	for _, job := range jobs {
		states[job.ID] = job.State
	}

	return states, nil
}

// PartitionBusy reports whether the partition has running jobs.
func (c *Client) PartitionBusy(ctx context.Context, partition string) bool {
	out, err := c.run.Run(ctx, "squeue", "-p", partition, "-t", "RUNNING", "--noheader")
	if err != nil {
		return false
	}

	return strings.TrimSpace(out) != ""
}

// PartitionOnline reports whether sinfo knows the partition.
func (c *Client) PartitionOnline(ctx context.Context, partition string) bool {
	out, err := c.run.Run(ctx, "sinfo", "-p", partition)
	if err != nil {
		return false
	}

	return strings.Contains(out, partition)
}

// Cancel removes a job from the queue.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if !validJobID(jobID) {
		return fmt.Errorf("%w %q", ErrBadJobID, jobID)
	}
	if _, err := c.run.Run(ctx, "scancel", jobID); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	return nil
}

// Submit hands a job script to sbatch and returns the assigned job id.
// The id is empty when sbatch succeeds without printing one.
func (c *Client) Submit(ctx context.Context, scriptPath string) (string, error) {
	out, err := c.run.Run(ctx, "sbatch", scriptPath)
	if err != nil {
		return "", fmt.Errorf("sbatch: %w", err)
	}

	m := submittedRe.FindStringSubmatch(out)
	if m == nil {
		return "", nil
	}

	return m[1], nil
}

func parseQueue(out, currentUser string) []model.Job {
	jobs := []model.Job{}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 8 {
			continue
		}
		if parts[7] == simPartition {
			continue
		}

		job := model.Job{
			ID:        parts[0],
			Name:      parts[1],
			User:      parts[2],
			State:     parts[3],
			Time:      parts[4],
			TimeLimit: parts[5],
			Nodes:     parts[6],
			Partition: parts[7],
		}
		if len(parts) > 8 {
			job.NodeList = strings.Join(parts[8:], " ")
		}
		job.CurrentUser = matchesUser(job.User, currentUser)

		jobs = append(jobs, job)
	}

	return jobs
}

// matchesUser treats a row's user as the current one when it equals the
// username or is a squeue-truncated prefix of it.
func matchesUser(jobUser, current string) bool {
	if current == "" || jobUser == "" {
		return false
	}

	return jobUser == current || strings.HasPrefix(current, jobUser)
}

// validJobID accepts plain ids and array steps like 123_4.
func validJobID(s string) bool {
	if s == "" || s[0] == '_' || s[len(s)-1] == '_' {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '_' {
			return false
		}
	}

	return true
}
