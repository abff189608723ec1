package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopetools/beamline/errors"
)

func TestLocalRunnerCapturesStdout(t *testing.T) {
	r := NewLocalRunner()

	res, err := r.Execute(context.Background(), "sh", []string{"-c", "echo hello; echo warn >&2"}, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
}

func TestLocalRunnerNonZeroExit(t *testing.T) {
	r := NewLocalRunner()

	res, err := r.Execute(context.Background(), "sh", []string{"-c", "echo partial; exit 3"}, ExecOptions{})
	require.Error(t, err)

	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, "partial\n", execErr.Stdout)
	assert.Equal(t, "partial\n", res.Stdout, "captured output is returned alongside the error")
	assert.True(t, errors.Is(err, errors.ErrExecution))
}

func TestLocalRunnerMissingBinary(t *testing.T) {
	r := NewLocalRunner()

	_, err := r.Execute(context.Background(), "definitely-not-a-binary-9f8e7d", nil, ExecOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecution))
}

func TestLocalRunnerWorkDir(t *testing.T) {
	dir := t.TempDir()
	r := NewLocalRunner()

	res, err := r.Execute(context.Background(), "pwd", nil, ExecOptions{WorkDir: dir})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, filepath.Base(dir))
}

func TestLocalRunnerWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "submit.sh")
	r := NewLocalRunner()

	require.NoError(t, r.WriteFile(context.Background(), path, []byte("#!/bin/bash\n"), 0o755))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
