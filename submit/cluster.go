package submit

import (
	"context"
	"path/filepath"
	"regexp"

	"github.com/scopetools/beamline/errors"
	"github.com/scopetools/beamline/remote"
	"github.com/scopetools/beamline/script"
)

// schedulerJobIDPattern extracts the scheduler-assigned id from sbatch
// output. A zero-exit submission whose output does not match is treated as
// failed: without the id the job could never be cancelled or tracked.
var schedulerJobIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// submitCluster writes the batch script to the head node and submits it.
// The scheduler id is stored on success; any failure is returned for the
// caller to record on the job row.
func (o *Orchestrator) submitCluster(ctx context.Context, req Request) error {
	runner := o.clusterRunner
	if req.Credentials != nil {
		ephemeral, err := o.newEphemeral(ctx, *req.Credentials)
		if err != nil {
			return errors.Wrap(err, "failed to open session")
		}
		defer func() {
			if cerr := ephemeral.Close(); cerr != nil {
				o.logger.Warnw("Failed to close ephemeral session", "job_id", req.JobID, "error", cerr)
			}
		}()
		runner = ephemeral
	}

	partition := req.Resources.Partition
	if partition == "" {
		partition = o.cfg.Cluster.Partition
	}

	text := script.Generate(script.Spec{
		JobName:         req.JobName,
		OutputPath:      filepath.Join(req.OutputDir, "run.out"),
		ErrorPath:       filepath.Join(req.OutputDir, "run.err"),
		Partition:       partition,
		Tasks:           req.Resources.Tasks,
		CPUsPerTask:     req.Resources.Threads,
		GPUs:            req.Resources.GPUs,
		ExtraDirectives: req.Resources.ExtraArgs,
		WorkDir:         req.WorkDir,
		Command:         req.Command,
	}, o.wrapping())

	scriptPath := filepath.Join(req.OutputDir, "submit.sh")
	if script.HasShellMetacharacters(scriptPath) {
		return errors.NewValidationError("script path contains shell metacharacters: %q", scriptPath)
	}
	if err := runner.WriteFile(ctx, scriptPath, []byte(text), 0o755); err != nil {
		return errors.Wrap(err, "failed to write batch script")
	}

	submitCmd := script.ResolveSubmitCommand(req.Resources.SubmitCommand)
	if req.Resources.SubmitCommand == "" {
		submitCmd = script.ResolveSubmitCommand(o.cfg.Cluster.SubmitCommand)
	}

	res, err := runner.Execute(ctx, submitCmd, []string{scriptPath}, remote.ExecOptions{WorkDir: req.WorkDir})
	if err != nil {
		return errors.Wrapf(err, "%s failed", submitCmd)
	}

	match := schedulerJobIDPattern.FindStringSubmatch(res.Stdout)
	if match == nil {
		return errors.Wrapf(errors.ErrSubmission,
			"%s exited 0 but no job id could be parsed from output: %q", submitCmd, firstLine(res.Stdout))
	}

	if err := o.store.SetExternalJobID(req.JobID, match[1]); err != nil {
		return err
	}
	o.logger.Infow("Job submitted to cluster",
		"job_id", req.JobID, "external_job_id", match[1], "submit_command", submitCmd)
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
