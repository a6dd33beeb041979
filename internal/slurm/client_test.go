package slurm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out   string
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))

	return f.out, f.err
}

func TestQueueParsesRows(t *testing.T) {
	run := &fakeRunner{out: `
123            cal_rabi    smith  RUNNING       5:12   1:00:00      1 iqm5q node01
124           exp_t1_q0 alessand  PENDING       0:00   2:00:00      1 qw11q (Resources)
125                 sim_job    jones  RUNNING       1:00   1:00:00      1 sim node02
`}
	c := NewClient(run, "alessandro")

	jobs, err := c.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "123", jobs[0].ID)
	assert.Equal(t, "cal_rabi", jobs[0].Name)
	assert.Equal(t, "smith", jobs[0].User)
	assert.Equal(t, "RUNNING", jobs[0].State)
	assert.Equal(t, "5:12", jobs[0].Time)
	assert.Equal(t, "1:00:00", jobs[0].TimeLimit)
	assert.Equal(t, "1", jobs[0].Nodes)
	assert.Equal(t, "iqm5q", jobs[0].Partition)
	assert.Equal(t, "node01", jobs[0].NodeList)
	assert.False(t, jobs[0].CurrentUser)

	assert.Equal(t, "(Resources)", jobs[1].NodeList)
	assert.True(t, jobs[1].CurrentUser, "truncated username should match")

	require.Len(t, run.calls, 1)
	assert.Equal(t, []string{"squeue", "--format=" + queueFormat, "--noheader"}, run.calls[0])
}

func TestQueueJoinsReasonTail(t *testing.T) {
	run := &fakeRunner{out: "77 job usr PENDING 0:00 1:00:00 2 qw11q (launch failed requeued held)"}
	c := NewClient(run, "usr")

	jobs, err := c.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "(launch failed requeued held)", jobs[0].NodeList)
}

func TestQueueSkipsShortRows(t *testing.T) {
	run := &fakeRunner{out: "garbage line\n1 2 3"}
	c := NewClient(run, "usr")

	jobs, err := c.Queue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestQueueCommandError(t *testing.T) {
	run := &fakeRunner{err: errors.New("squeue: command not found")}
	c := NewClient(run, "usr")

	_, err := c.Queue(context.Background())
	require.Error(t, err)
}

func TestMatchesUser(t *testing.T) {
	tests := []struct {
		name    string
		jobUser string
		current string
		want    bool
	}{
		{"exact", "smith", "smith", true},
		{"truncated prefix", "alessand", "alessandro", true},
		{"different", "jones", "smith", false},
		{"empty current", "smith", "", false},
		{"empty job user", "", "smith", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesUser(tt.jobUser, tt.current))
		})
	}
}

func TestJobStates(t *testing.T) {
	run := &fakeRunner{out: `
10 a usr RUNNING 1:00 2:00:00 1 iqm5q n1
11 b usr PENDING 0:00 2:00:00 1 qw11q (Priority)
`}
	c := NewClient(run, "usr")

	states, err := c.JobStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"10": "RUNNING", "11": "PENDING"}, states)
}

func TestPartitionBusy(t *testing.T) {
	t.Run("running jobs", func(t *testing.T) {
		run := &fakeRunner{out: "42 cal usr RUNNING 1:00 2:00:00 1 iqm5q n1"}
		c := NewClient(run, "usr")
		assert.True(t, c.PartitionBusy(context.Background(), "iqm5q"))
		assert.Equal(t, []string{"squeue", "-p", "iqm5q", "-t", "RUNNING", "--noheader"}, run.calls[0])
	})
	t.Run("idle", func(t *testing.T) {
		c := NewClient(&fakeRunner{out: "  \n"}, "usr")
		assert.False(t, c.PartitionBusy(context.Background(), "iqm5q"))
	})
	t.Run("command error", func(t *testing.T) {
		c := NewClient(&fakeRunner{err: errors.New("boom")}, "usr")
		assert.False(t, c.PartitionBusy(context.Background(), "iqm5q"))
	})
}

func TestPartitionOnline(t *testing.T) {
	t.Run("listed", func(t *testing.T) {
		run := &fakeRunner{out: "PARTITION AVAIL  TIMELIMIT  NODES  STATE NODELIST\niqm5q up infinite 1 idle node01"}
		c := NewClient(run, "usr")
		assert.True(t, c.PartitionOnline(context.Background(), "iqm5q"))
	})
	t.Run("unknown partition", func(t *testing.T) {
		c := NewClient(&fakeRunner{out: "PARTITION AVAIL  TIMELIMIT  NODES  STATE NODELIST"}, "usr")
		assert.False(t, c.PartitionOnline(context.Background(), "iqm5q"))
	})
	t.Run("sinfo missing", func(t *testing.T) {
		c := NewClient(&fakeRunner{err: errors.New("no sinfo")}, "usr")
		assert.False(t, c.PartitionOnline(context.Background(), "iqm5q"))
	})
}

func TestCancel(t *testing.T) {
	t.Run("valid id", func(t *testing.T) {
		run := &fakeRunner{}
		c := NewClient(run, "usr")
		require.NoError(t, c.Cancel(context.Background(), "12345"))
		assert.Equal(t, []string{"scancel", "12345"}, run.calls[0])
	})
	t.Run("array step id", func(t *testing.T) {
		run := &fakeRunner{}
		c := NewClient(run, "usr")
		require.NoError(t, c.Cancel(context.Background(), "123_4"))
	})
	t.Run("rejects non numeric", func(t *testing.T) {
		run := &fakeRunner{}
		c := NewClient(run, "usr")
		require.Error(t, c.Cancel(context.Background(), "12; rm -rf /"))
		assert.Empty(t, run.calls, "scancel must not run for invalid ids")
	})
	t.Run("rejects empty", func(t *testing.T) {
		c := NewClient(&fakeRunner{}, "usr")
		require.Error(t, c.Cancel(context.Background(), ""))
	})
}

func TestSubmit(t *testing.T) {
	t.Run("parses job id", func(t *testing.T) {
		run := &fakeRunner{out: "Submitted batch job 98765"}
		c := NewClient(run, "usr")
		id, err := c.Submit(context.Background(), "/tmp/job_script.sh")
		require.NoError(t, err)
		assert.Equal(t, "98765", id)
	})
	t.Run("no id in output", func(t *testing.T) {
		c := NewClient(&fakeRunner{out: "queued"}, "usr")
		id, err := c.Submit(context.Background(), "/tmp/job_script.sh")
		require.NoError(t, err)
		assert.Empty(t, id)
	})
	t.Run("sbatch failure", func(t *testing.T) {
		c := NewClient(&fakeRunner{err: errors.New("invalid partition")}, "usr")
		_, err := c.Submit(context.Background(), "/tmp/job_script.sh")
		require.Error(t, err)
	})
}
