package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner() *Runner {
	return NewRunner(zap.NewNop().Sugar())
}

func TestRunCapturesOutput(t *testing.T) {
	r := newTestRunner()

	out, err := r.Run(context.Background(), "echo", "hello", "world")

	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRunDir(t *testing.T) {
	r := newTestRunner()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	out, err := r.RunDir(context.Background(), dir, "ls")

	require.NoError(t, err)
	assert.Contains(t, out, "marker.txt")
}

func TestRunExitError(t *testing.T) {
	r := newTestRunner()

	out, err := r.Run(context.Background(), "sh", "-c", "echo partial; echo oops >&2; exit 3")

	assert.Equal(t, "partial", out, "stdout survives a failed command")

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "sh", cerr.Cmd)
	assert.Equal(t, 3, cerr.ExitCode)
	assert.Equal(t, "oops", cerr.Stderr)
	assert.Equal(t, "sh: oops", cerr.Error())
}

func TestRunMissingBinary(t *testing.T) {
	r := newTestRunner()

	_, err := r.Run(context.Background(), "qdashboard-no-such-binary")

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, -1, cerr.ExitCode)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestRunTimeout(t *testing.T) {
	r := newTestRunner()
	r.Timeout = 50 * time.Millisecond

	_, err := r.Run(context.Background(), "sleep", "5")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandErrorFormat(t *testing.T) {
	withStderr := &CommandError{
		Cmd:      "scancel",
		ExitCode: 1,
		Stderr:   "invalid job id",
		Err:      errors.New("exit status 1"),
	}
	assert.Equal(t, "scancel: invalid job id", withStderr.Error())

	bare := &CommandError{Cmd: "sbatch", ExitCode: -1, Err: errors.New("exit status 2")}
	assert.Equal(t, "sbatch: exit status 2", bare.Error())
	assert.EqualError(t, errors.Unwrap(bare), "exit status 2")
}

func TestLimitedWriterCapsCapture(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{buf: &buf}

	n, err := lw.Write(bytes.Repeat([]byte("a"), maxCaptured-2))
	require.NoError(t, err)
	require.Equal(t, maxCaptured-2, n)

	n, err = lw.Write([]byte("bbbb"))
	require.NoError(t, err)
	assert.Equal(t, 4, n, "writes past the cap still report success")
	assert.Equal(t, maxCaptured, buf.Len())
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("abb")))

	n, err = lw.Write([]byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, maxCaptured, buf.Len())
}
