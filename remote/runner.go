// Package remote unifies command execution and file writes behind one
// interface, backed either by direct local execution or by an SSH session
// to the cluster head node.
package remote

import (
	"context"
	"fmt"
	"os"

	"github.com/scopetools/beamline/errors"
)

// ExecOptions modifies a single Execute call
type ExecOptions struct {
	WorkDir string // change to this directory before running, if set
}

// Result carries the captured output of a completed command
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes commands and writes files, locally or remotely.
// Implementations: LocalRunner, Session (shared), EphemeralSession.
type Runner interface {
	Execute(ctx context.Context, cmd string, args []string, opts ExecOptions) (Result, error)
	WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error
}

// ExecError is returned when a command ran but exited non-zero.
// It carries the captured output and exit code for the caller to record.
type ExecError struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Cmd, e.ExitCode, firstLine(e.Stderr))
}

// Unwrap ties ExecError into the execution-error taxonomy
func (e *ExecError) Unwrap() error {
	return errors.ErrExecution
}

// Credentials authenticate an ephemeral per-caller session
type Credentials struct {
	User     string
	Password string
	KeyFile  string
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
