// Package submit owns the per-job submission state machine: queued jobs
// transition to running, then branch into cluster submission or local
// process supervision and end in a terminal state.
package submit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/errors"
	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/remote"
	"github.com/scopetools/beamline/script"
)

// Resources are the fully-resolved, typed resource parameters for one
// submission. Alias resolution of the loosely-typed parameter bag belongs
// to the command-building layer, not here.
type Resources struct {
	Partition     string
	SubmitCommand string
	Tasks         int
	Threads       int
	GPUs          int
	ExtraArgs     []string
}

// Request is the submission input contract. The command is already built;
// this core only decides how to run it.
type Request struct {
	JobID       string
	JobName     string
	Command     []string
	WorkDir     string
	OutputDir   string
	Mode        job.ExecutionMode
	Resources   Resources
	PostCommand []string
	Credentials *remote.Credentials
}

// Cataloger registers the results of a successfully completed job.
// Consumed as a collaborator; a nil cataloger is skipped.
type Cataloger interface {
	Catalog(ctx context.Context, jobID, outputDir string) error
}

// ephemeralRunner is an ephemeral session from the orchestrator's point of
// view: the usual execute/writeFile contract plus mandatory Close.
type ephemeralRunner interface {
	remote.Runner
	Close() error
}

// Orchestrator drives submissions. Independent jobs submit concurrently;
// only the shared remote session serializes shared-credential execution.
type Orchestrator struct {
	cfg       *config.Config
	store     *job.Store
	notifier  *job.Notifier
	cataloger Cataloger
	logger    *zap.SugaredLogger
	wg        sync.WaitGroup

	// shared-credential transport; the shared Session in production
	clusterRunner remote.Runner
	// opens a caller-credentialed session; swapped out in tests
	newEphemeral func(ctx context.Context, creds remote.Credentials) (ephemeralRunner, error)
}

// New creates an orchestrator backed by the shared session for cluster
// work. cataloger may be nil.
func New(cfg *config.Config, store *job.Store, notifier *job.Notifier, shared *remote.Session, cataloger Cataloger, logger *zap.SugaredLogger) *Orchestrator {
	o := &Orchestrator{
		cfg:           cfg,
		store:         store,
		notifier:      notifier,
		cataloger:     cataloger,
		logger:        logger.Named("submit"),
		clusterRunner: shared,
	}
	o.newEphemeral = func(ctx context.Context, creds remote.Credentials) (ephemeralRunner, error) {
		return remote.NewEphemeralSession(ctx, cfg.Cluster, creds, o.logger)
	}
	return o
}

// Submit validates the request, marks the job running and dispatches by
// execution mode.
//
// Validation and configuration failures return synchronously, before any
// process or connection is touched. Everything after the job is marked
// running is reported only via the stored job state and the status
// notification, never as an error from this call.
func (o *Orchestrator) Submit(ctx context.Context, req Request) error {
	if err := o.validate(req); err != nil {
		o.logger.Warnw("Submission rejected", "job_id", req.JobID, "error", err)
		return err
	}

	changed, err := o.store.MarkRunning(req.JobID, time.Now())
	if err != nil {
		return err
	}
	if !changed {
		return errors.NewValidationError(
			"job %s is already running or in a terminal state; retry a finished job first", req.JobID)
	}
	o.notifier.Publish(req.JobID, job.StatusPending, job.StatusRunning, "")

	switch req.Mode {
	case job.ModeCluster:
		if err := o.submitCluster(ctx, req); err != nil {
			o.failRunning(req.JobID, err)
		}
	default:
		if err := o.submitLocal(ctx, req); err != nil {
			o.failRunning(req.JobID, err)
		}
	}
	return nil
}

// Wait blocks until all in-flight local process supervisors have finished.
// Called on shutdown; the detached processes themselves keep running.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// validate rejects unsafe or unsatisfiable requests before any side effect
func (o *Orchestrator) validate(req Request) error {
	if req.JobID == "" {
		return errors.NewValidationError("jobId is required")
	}
	if len(req.Command) == 0 {
		return errors.NewValidationError("command is required")
	}
	if req.OutputDir == "" {
		return errors.NewValidationError("outputDir is required")
	}
	if req.Mode == job.ModeCluster && !o.cfg.Cluster.Enabled() {
		return errors.NewConfigurationError("cluster execution requested but no cluster is configured")
	}
	if req.Resources.Tasks < 0 || req.Resources.Threads < 0 || req.Resources.GPUs < 0 {
		return errors.NewValidationError("resource counts must not be negative")
	}

	for field, value := range map[string]string{
		"jobName":   req.JobName,
		"partition": req.Resources.Partition,
		"outputDir": req.OutputDir,
		"workDir":   req.WorkDir,
	} {
		if err := script.Sanitize(field, value); err != nil {
			return err
		}
	}
	return nil
}

// failRunning records a post-dispatch failure on the job row and publishes
// the terminal notification. Errors here are logged, never re-raised.
func (o *Orchestrator) failRunning(jobID string, cause error) {
	changed, err := o.store.Finish(jobID, job.StatusFailed, cause.Error())
	if err != nil {
		o.logger.Errorw("Failed to record job failure", "job_id", jobID, "error", err)
		return
	}
	if changed {
		o.notifier.Publish(jobID, job.StatusRunning, job.StatusFailed, cause.Error())
	}
	o.logger.Warnw("Job failed", "job_id", jobID, "error", cause)
}

// wrapping returns the configured container/launcher wrapping
func (o *Orchestrator) wrapping() script.Wrapping {
	return script.Wrapping{
		Container: o.cfg.Container,
		Launcher:  o.cfg.Launcher,
	}
}
