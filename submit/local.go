package submit

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/kballard/go-shellquote"

	"github.com/scopetools/beamline/errors"
	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/script"
)

// submitLocal spawns the wrapped command as a detached local process and
// returns as soon as the process is started. Completion is handled by a
// supervising goroutine; the pid is stored immediately so a crash between
// spawn and completion never leaves an untracked process.
func (o *Orchestrator) submitLocal(ctx context.Context, req Request) error {
	argv := script.WrapCommand(req.Command, o.wrapping(), req.Resources.Tasks, req.Resources.GPUs)

	// Trusted command builders occasionally chain two commands with an
	// explicit "&&" element. Only that marker triggers shell-string
	// interpretation; ordinary vectors are executed directly.
	if slices.Contains(argv, "&&") {
		argv = []string{"/bin/sh", "-c", joinChained(argv)}
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	stdout, err := openLogFile(filepath.Join(req.OutputDir, "run.out"))
	if err != nil {
		return err
	}
	stderr, err := openLogFile(filepath.Join(req.OutputDir, "run.err"))
	if err != nil {
		stdout.Close()
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own session so the process survives us and receives no terminal signals
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return errors.Wrapf(errors.ErrExecution, "failed to start %s: %v", argv[0], err)
	}

	pid := cmd.Process.Pid
	if err := o.store.SetLocalPID(req.JobID, pid); err != nil {
		o.logger.Errorw("Failed to store local pid", "job_id", req.JobID, "pid", pid, "error", err)
	}
	o.logger.Infow("Local process started", "job_id", req.JobID, "pid", pid, "command", argv[0])

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer stdout.Close()
		defer stderr.Close()
		o.superviseLocal(req, cmd)
	}()
	return nil
}

// superviseLocal waits for the detached process and records the outcome.
// A job already moved to a terminal state (cancellation raced the exit)
// is left untouched beyond clearing the stale pid.
func (o *Orchestrator) superviseLocal(req Request, cmd *exec.Cmd) {
	waitErr := cmd.Wait()

	current, err := o.store.GetJob(req.JobID)
	if err != nil {
		o.logger.Errorw("Failed to reload job after process exit", "job_id", req.JobID, "error", err)
		return
	}
	if current.Status.IsTerminal() {
		if err := o.store.ClearLocalPID(req.JobID); err != nil {
			o.logger.Warnw("Failed to clear stale pid", "job_id", req.JobID, "error", err)
		}
		o.logger.Debugw("Process exited after job reached terminal state; outcome discarded",
			"job_id", req.JobID, "status", current.Status)
		return
	}

	status := job.StatusSuccess
	errMsg := ""
	if waitErr != nil {
		status = job.StatusFailed
		errMsg = waitErr.Error()
	}

	changed, err := o.store.Finish(req.JobID, status, errMsg)
	if err != nil {
		o.logger.Errorw("Failed to finish job", "job_id", req.JobID, "error", err)
		return
	}
	if !changed {
		return
	}

	if status == job.StatusSuccess {
		o.catalog(req.JobID, req.OutputDir)
		if len(req.PostCommand) > 0 {
			// Fire and forget; a failure annotates the still-successful job
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.runPostCommand(req)
			}()
		}
	}

	o.notifier.Publish(req.JobID, job.StatusRunning, status, errMsg)
	o.logger.Infow("Local job finished", "job_id", req.JobID, "status", status)
}

// catalog registers job outputs with the configured cataloger; failures
// are logged and annotated but never change the job's status
func (o *Orchestrator) catalog(jobID, outputDir string) {
	if o.cataloger == nil {
		return
	}
	if err := o.cataloger.Catalog(context.Background(), jobID, outputDir); err != nil {
		o.logger.Warnw("Cataloging failed", "job_id", jobID, "error", err)
		if aerr := o.store.AnnotateError(jobID, "cataloging failed: "+err.Error()); aerr != nil {
			o.logger.Errorw("Failed to annotate job", "job_id", jobID, "error", aerr)
		}
	}
}

// runPostCommand runs the post-command after a successful job. A failure
// is annotated on the job record without affecting its successful status.
func (o *Orchestrator) runPostCommand(req Request) {
	cmd := exec.Command(req.PostCommand[0], req.PostCommand[1:]...)
	cmd.Dir = req.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		o.logger.Warnw("Post-command failed",
			"job_id", req.JobID, "command", req.PostCommand[0], "error", err)
		note := "post-command failed: " + err.Error()
		if len(out) > 0 {
			note += ": " + firstLine(string(out))
		}
		if aerr := o.store.AnnotateError(req.JobID, note); aerr != nil {
			o.logger.Errorw("Failed to annotate job", "job_id", req.JobID, "error", aerr)
		}
	}
}

// joinChained builds the shell string for a chained vector: every argument
// is quoted so its boundaries survive the shell, while the "&&" markers
// between segments stay bare operators.
func joinChained(argv []string) string {
	var parts []string
	var segment []string
	flush := func() {
		if len(segment) > 0 {
			parts = append(parts, shellquote.Join(segment...))
			segment = nil
		}
	}
	for _, arg := range argv {
		if arg == "&&" {
			flush()
			parts = append(parts, "&&")
			continue
		}
		segment = append(segment, arg)
	}
	flush()
	return strings.Join(parts, " ")
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", path)
	}
	return f, nil
}
