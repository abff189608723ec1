package job

import (
	"database/sql"
	"time"

	"github.com/scopetools/beamline/errors"
)

// Store handles persistence of job and project records.
// All writes are targeted single-row updates keyed by id.
type Store struct {
	db *sql.DB
}

// NewStore creates a new record store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobSelectColumns = `id, project_id, job_type, status, execution_mode, command,
	external_job_id, local_pid, output_dir, post_command, error_message,
	started_at, ended_at, created_at, updated_at`

// CreateJob inserts a new job record
func (s *Store) CreateJob(j *Job) error {
	command, err := MarshalCommand(j.Command)
	if err != nil {
		return err
	}
	postCommand, err := MarshalCommand(j.PostCommand)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, project_id, job_type, status, execution_mode, command,
			external_job_id, local_pid, output_dir, post_command, error_message,
			started_at, ended_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		j.ID,
		j.ProjectID,
		j.JobType,
		j.Status,
		j.ExecutionMode,
		sql.NullString{String: command, Valid: command != ""},
		nullString(j.ExternalJobID),
		nullInt(j.LocalPID),
		j.OutputDir,
		sql.NullString{String: postCommand, Valid: postCommand != ""},
		j.ErrorMessage,
		j.StartedAt,
		j.EndedAt,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	j, err := scanJob(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return j, nil
}

// MarkRunning transitions a pending job to running with the given start
// time. Any other state is left untouched, so a duplicate submission can
// never start a second process for the same job; the returned bool reports
// whether the transition happened.
func (s *Store) MarkRunning(id string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = ?, started_at = ?, ended_at = NULL, error_message = '', updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query, StatusRunning, startedAt, time.Now(), id, StatusPending)
	if err != nil {
		return false, errors.Wrap(err, "failed to mark job running")
	}
	return oneRowChanged(result)
}

// SetExternalJobID stores the scheduler-assigned id after a successful
// cluster submission
func (s *Store) SetExternalJobID(id string, externalID string) error {
	query := `UPDATE jobs SET external_job_id = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.Exec(query, externalID, time.Now(), id); err != nil {
		return errors.Wrap(err, "failed to set external job id")
	}
	return nil
}

// SetLocalPID stores the detached process id for later cancellation and
// orphan detection
func (s *Store) SetLocalPID(id string, pid int) error {
	query := `UPDATE jobs SET local_pid = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.Exec(query, pid, time.Now(), id); err != nil {
		return errors.Wrap(err, "failed to set local pid")
	}
	return nil
}

// ClearLocalPID removes the stored process id
func (s *Store) ClearLocalPID(id string) error {
	query := `UPDATE jobs SET local_pid = NULL, updated_at = ? WHERE id = ?`
	if _, err := s.db.Exec(query, time.Now(), id); err != nil {
		return errors.Wrap(err, "failed to clear local pid")
	}
	return nil
}

// Finish moves a job to a terminal state, clearing the pid and recording
// the end time. The guard clause skips jobs that are already terminal
// (e.g. cancelled while the process was still exiting); the returned bool
// reports whether the row changed.
func (s *Store) Finish(id string, status Status, errMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, errors.Newf("Finish called with non-terminal status %q", status)
	}
	query := `
		UPDATE jobs
		SET status = ?, error_message = ?, local_pid = NULL, ended_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('success', 'failed', 'cancelled')
	`
	now := time.Now()
	result, err := s.db.Exec(query, status, errMsg, now, now, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to finish job")
	}
	return oneRowChanged(result)
}

// AnnotateError appends a note to the job's error message without touching
// its status (e.g. a post-command failure on a still-successful job).
func (s *Store) AnnotateError(id string, note string) error {
	query := `
		UPDATE jobs
		SET error_message = CASE WHEN error_message = '' THEN ? ELSE error_message || '; ' || ? END,
		    updated_at = ?
		WHERE id = ?
	`
	if _, err := s.db.Exec(query, note, note, time.Now(), id); err != nil {
		return errors.Wrap(err, "failed to annotate job")
	}
	return nil
}

// Retry is the explicit caller-issued escape from a terminal state.
// It resets the job to pending and clears the previous run's outcome.
func (s *Store) Retry(id string) error {
	query := `
		UPDATE jobs
		SET status = ?, error_message = '', external_job_id = NULL, local_pid = NULL,
		    started_at = NULL, ended_at = NULL, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query, StatusPending, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "failed to retry job")
	}
	changed, err := oneRowChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	return nil
}

// ListByProject returns all jobs belonging to a project
func (s *Store) ListByProject(projectID string) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE project_id = ? ORDER BY created_at ASC`

	rows, err := s.db.Query(query, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by project")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListRunningByMode returns running jobs in the given execution mode.
// Used by the cluster completion monitor to know which output directories
// to watch for exit-status markers.
func (s *Store) ListRunningByMode(mode ExecutionMode) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE status = ? AND execution_mode = ? ORDER BY created_at ASC`

	rows, err := s.db.Query(query, StatusRunning, mode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CountActiveByProject counts pending/running jobs for a project.
// Archiving is blocked while this is non-zero.
func (s *Store) CountActiveByProject(projectID string) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE project_id = ? AND status IN ('pending', 'running')`

	var count int
	if err := s.db.QueryRow(query, projectID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count active jobs")
	}
	return count, nil
}

// RewritePathPrefix substitutes newPrefix for oldPrefix in the output
// directory of every job of the project whose path starts with oldPrefix,
// as one batched update. Returns the number of rows changed.
//
// Matching is a bare string-prefix test: a folder named "Proj1" also
// matches a sibling "Proj10". Kept as documented behavior of the original.
func (s *Store) RewritePathPrefix(projectID, oldPrefix, newPrefix string) (int, error) {
	query := `
		UPDATE jobs
		SET output_dir = ? || SUBSTR(output_dir, ?),
		    updated_at = ?
		WHERE project_id = ? AND SUBSTR(output_dir, 1, ?) = ?
	`
	result, err := s.db.Exec(query,
		newPrefix, len(oldPrefix)+1,
		time.Now(),
		projectID, len(oldPrefix), oldPrefix,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to rewrite job paths")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var command, postCommand, externalJobID sql.NullString
	var localPID sql.NullInt64
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&j.ID,
		&j.ProjectID,
		&j.JobType,
		&j.Status,
		&j.ExecutionMode,
		&command,
		&externalJobID,
		&localPID,
		&j.OutputDir,
		&postCommand,
		&j.ErrorMessage,
		&startedAt,
		&endedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.Command, err = UnmarshalCommand(command.String); err != nil {
		return nil, err
	}
	if j.PostCommand, err = UnmarshalCommand(postCommand.String); err != nil {
		return nil, err
	}
	if externalJobID.Valid {
		j.ExternalJobID = &externalJobID.String
	}
	if localPID.Valid {
		pid := int(localPID.Int64)
		j.LocalPID = &pid
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		j.EndedAt = &endedAt.Time
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

func oneRowChanged(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
