package slurm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanForErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		wantMsg string
	}{
		{
			name:    "empty log",
			content: "",
			wantErr: false,
			wantMsg: "No log content available",
		},
		{
			name:    "clean run",
			content: "loading platform\nrunning actions\nreport written",
			wantErr: false,
			wantMsg: "No errors detected in recent logs",
		},
		{
			name:    "completion marker on last line",
			content: "loading platform\nrunning actions\nJob finished",
			wantErr: false,
			wantMsg: "Job completed successfully",
		},
		{
			name:    "traceback reported",
			content: "step 1 ok\nTraceback (most recent call last):\n  File \"run.py\"",
			wantErr: true,
			wantMsg: "Traceback (most recent call last):",
		},
		{
			name:    "most recent error wins",
			content: "error: first\nstill going\nsbatch: error: Batch job submission failed",
			wantErr: true,
			wantMsg: "sbatch: error: Batch job submission failed",
		},
		{
			name:    "old errors outside the tail are ignored",
			content: "error: disk full\n1\n2\n3\n4\n5\n6\n7\n8\n9\nall good, success",
			wantErr: false,
			wantMsg: "Job completed successfully",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasErr, msg := ScanForErrors(tt.content)
			assert.Equal(t, tt.wantErr, hasErr)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestScanLog(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		hasErr, msg := ScanLog(filepath.Join(t.TempDir(), "nope.log"))
		assert.True(t, hasErr)
		assert.Equal(t, "Unable to read SLURM log file", msg)
	})
	t.Run("file with failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "slurm_output.log")
		require.NoError(t, os.WriteFile(path, []byte("srun: error: node down"), 0o644))

		hasErr, msg := ScanLog(path)
		assert.True(t, hasErr)
		assert.Contains(t, msg, "node down")
	})
}

func TestOutput(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		assert.Equal(t, "No SLURM output available", Output(filepath.Join(t.TempDir(), "nope.log")))
	})
	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "slurm_output.log")
		require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

		assert.Equal(t, "line one\nline two\n", Output(path))
	})
}
