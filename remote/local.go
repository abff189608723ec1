package remote

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/scopetools/beamline/errors"
)

// LocalRunner executes commands directly on the host
type LocalRunner struct{}

// NewLocalRunner creates a runner backed by OS process execution
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Execute runs the command and waits for it, capturing output.
// Non-zero exit returns an *ExecError carrying stdout/stderr and the code.
func (r *LocalRunner) Execute(ctx context.Context, cmd string, args []string, opts ExecOptions) (Result, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	if opts.WorkDir != "" {
		c.Dir = opts.WorkDir
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, &ExecError{
				Cmd:      cmd,
				ExitCode: exitErr.ExitCode(),
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
			}
		}
		return result, errors.Wrapf(errors.ErrExecution, "failed to start %s: %v", cmd, err)
	}
	return result, nil
}

// WriteFile writes content to a local path, creating parent directories
func (r *LocalRunner) WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
