// Package job provides the job record model and its SQLite-backed store.
//
// The execution core reads and conditionally updates job rows but never
// creates or deletes them during submission; creation belongs to the
// project layer and is exposed here for it (and for tests).
package job

import (
	"encoding/json"
	"time"

	"github.com/scopetools/beamline/errors"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for states no component may overwrite
// without an explicit caller-issued retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionMode selects where a job's command runs
type ExecutionMode string

const (
	ModeLocal   ExecutionMode = "local"
	ModeCluster ExecutionMode = "cluster"
)

// Job represents one batch-processing job record.
//
// Invariants enforced by the Store:
//   - ExternalJobID is set iff ExecutionMode is cluster and submission
//     returned a parseable scheduler id
//   - LocalPID is non-nil only while a local job is running
//   - terminal statuses are never overwritten except by Retry
type Job struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	JobType       string        `json:"job_type,omitempty"` // selects the progress descriptor
	Status        Status        `json:"status"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	Command       []string      `json:"command,omitempty"`
	ExternalJobID *string       `json:"external_job_id,omitempty"`
	LocalPID      *int          `json:"local_pid,omitempty"`
	OutputDir     string        `json:"output_dir"`
	PostCommand   []string      `json:"post_command,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// MarshalCommand converts an argument vector to its stored JSON form
func MarshalCommand(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", nil
	}
	data, err := json.Marshal(argv)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal command")
	}
	return string(data), nil
}

// UnmarshalCommand converts the stored JSON form back to an argument vector
func UnmarshalCommand(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var argv []string
	if err := json.Unmarshal([]byte(data), &argv); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal command")
	}
	return argv, nil
}
