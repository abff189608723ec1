package submit

import (
	"context"
	"strconv"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/scopetools/beamline/errors"
	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/remote"
)

// Cancel stops a running job and moves it to the cancelled state.
//
// Cluster jobs are cancelled through the scheduler with the configured
// cancel command; local jobs receive SIGTERM. The record is marked
// cancelled first so a simultaneous process exit cannot overwrite the
// caller's decision.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	j, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return errors.NewValidationError("job %s is already %s", jobID, j.Status)
	}

	changed, err := o.store.Finish(jobID, job.StatusCancelled, "")
	if err != nil {
		return err
	}
	if !changed {
		return errors.NewValidationError("job %s is already terminal", jobID)
	}

	switch j.ExecutionMode {
	case job.ModeCluster:
		err = o.cancelCluster(ctx, j)
	default:
		err = o.cancelLocal(j)
	}
	if err != nil {
		// The record stays cancelled; the underlying process may outlive it
		o.logger.Warnw("Cancellation signal failed", "job_id", jobID, "error", err)
		if aerr := o.store.AnnotateError(jobID, "cancellation signal failed: "+err.Error()); aerr != nil {
			o.logger.Errorw("Failed to annotate job", "job_id", jobID, "error", aerr)
		}
	}

	o.notifier.Publish(jobID, j.Status, job.StatusCancelled, "")
	o.logger.Infow("Job cancelled", "job_id", jobID)
	return nil
}

// cancelCluster asks the scheduler to kill the job. Without a stored
// scheduler id there is nothing to signal; the record update stands alone.
func (o *Orchestrator) cancelCluster(ctx context.Context, j *job.Job) error {
	if j.ExternalJobID == nil {
		o.logger.Debugw("No scheduler id recorded; nothing to signal", "job_id", j.ID)
		return nil
	}
	if !o.cfg.Cluster.Enabled() {
		return errors.NewConfigurationError("no cluster configured to signal job %s", j.ID)
	}

	cancelCmd := o.cfg.Cluster.CancelCommand
	if cancelCmd == "" {
		cancelCmd = "scancel"
	}
	_, err := o.clusterRunner.Execute(ctx, cancelCmd, []string{*j.ExternalJobID}, remote.ExecOptions{})
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", cancelCmd, *j.ExternalJobID)
	}
	return nil
}

// cancelLocal signals the detached process group with SIGTERM. A pid whose
// process is already gone is not an error.
func (o *Orchestrator) cancelLocal(j *job.Job) error {
	if j.LocalPID == nil {
		return nil
	}
	pid := *j.LocalPID

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return errors.Wrapf(err, "failed to check process %d", pid)
	}
	if !alive {
		o.logger.Debugw("Process already gone", "job_id", j.ID, "pid", pid)
		return nil
	}

	// Negative pid targets the whole process group created by Setsid, so
	// launcher children go down with the parent
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return errors.Wrapf(err, "failed to signal process %d", pid)
		}
	}
	return nil
}

// RecoverOrphans reconciles running local jobs against live processes.
// Called once at startup: a job whose recorded process no longer exists is
// failed so it does not sit in the running state forever.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) error {
	running, err := o.store.ListRunningByMode(job.ModeLocal)
	if err != nil {
		return err
	}

	for _, j := range running {
		if j.LocalPID == nil {
			continue
		}
		alive, err := process.PidExists(int32(*j.LocalPID))
		if err != nil {
			o.logger.Warnw("Failed to check process", "job_id", j.ID, "pid", *j.LocalPID, "error", err)
			continue
		}
		if alive {
			continue
		}

		msg := "process " + strconv.Itoa(*j.LocalPID) + " no longer exists (orphaned by restart)"
		changed, err := o.store.Finish(j.ID, job.StatusFailed, msg)
		if err != nil {
			o.logger.Errorw("Failed to fail orphaned job", "job_id", j.ID, "error", err)
			continue
		}
		if changed {
			o.notifier.Publish(j.ID, job.StatusRunning, job.StatusFailed, msg)
			o.logger.Warnw("Orphaned job failed", "job_id", j.ID, "pid", *j.LocalPID)
		}
	}
	return nil
}
