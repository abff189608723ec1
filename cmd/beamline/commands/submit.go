package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/submit"
)

// SubmitCmd creates a job record and submits it for execution
var SubmitCmd = &cobra.Command{
	Use:   "submit <project-id> -- <command> [args...]",
	Short: "Submit a batch job",
	Long: `Create a job record and submit it for execution.

The command after -- runs either as a detached local process or as a
batch script on the configured cluster.

Examples:
  beamline submit proj1 --type Class2D --output-dir /data/proj1/Class2D/job012 \
    -- relion_refine --o Class2D/job012/run --i particles.star

  beamline submit proj1 --mode cluster --partition gpu --gpus 2 \
    --output-dir /data/proj1/Refine3D/job020 \
    -- relion_refine_mpi --o Refine3D/job020/run --i particles.star`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(cmd, args[0], args[1:])
	},
}

func init() {
	SubmitCmd.Flags().String("type", "", "Job type (selects the progress descriptor)")
	SubmitCmd.Flags().String("name", "", "Scheduler job name (defaults to type + job id)")
	SubmitCmd.Flags().String("mode", string(job.ModeLocal), "Execution mode: local or cluster")
	SubmitCmd.Flags().String("output-dir", "", "Job output directory (required)")
	SubmitCmd.Flags().String("work-dir", "", "Working directory for the command")
	SubmitCmd.Flags().String("partition", "", "Scheduler partition")
	SubmitCmd.Flags().Int("tasks", 1, "Task (process) count")
	SubmitCmd.Flags().Int("threads", 1, "Threads per task")
	SubmitCmd.Flags().Int("gpus", 0, "GPU count")
	SubmitCmd.Flags().StringSlice("post", nil, "Command to run after local success")
	_ = SubmitCmd.MarkFlagRequired("output-dir")
}

func runSubmit(cmd *cobra.Command, projectID string, command []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.store.GetProject(projectID); err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}

	jobType, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	mode, _ := cmd.Flags().GetString("mode")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	workDir, _ := cmd.Flags().GetString("work-dir")
	partition, _ := cmd.Flags().GetString("partition")
	tasks, _ := cmd.Flags().GetInt("tasks")
	threads, _ := cmd.Flags().GetInt("threads")
	gpus, _ := cmd.Flags().GetInt("gpus")
	post, _ := cmd.Flags().GetStringSlice("post")

	jobID := uuid.NewString()
	if name == "" {
		name = jobType + "-" + jobID[:8]
	}

	now := time.Now()
	j := &job.Job{
		ID:            jobID,
		ProjectID:     projectID,
		JobType:       jobType,
		Status:        job.StatusPending,
		ExecutionMode: job.ExecutionMode(mode),
		Command:       command,
		OutputDir:     outputDir,
		PostCommand:   post,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateJob(j); err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}

	err = a.orch.Submit(cmd.Context(), submit.Request{
		JobID:     jobID,
		JobName:   name,
		Command:   command,
		WorkDir:   workDir,
		OutputDir: outputDir,
		Mode:      job.ExecutionMode(mode),
		Resources: submit.Resources{
			Partition: partition,
			Tasks:     tasks,
			Threads:   threads,
			GPUs:      gpus,
		},
		PostCommand: post,
	})
	if err != nil {
		return fmt.Errorf("submission rejected: %w", err)
	}

	final, err := a.store.GetJob(jobID)
	if err != nil {
		return err
	}
	switch final.Status {
	case job.StatusFailed:
		pterm.Warning.Printf("Job %s failed: %s\n", jobID, final.ErrorMessage)
	default:
		pterm.Success.Printf("Job %s submitted (%s)\n", jobID, final.Status)
		if final.ExternalJobID != nil {
			pterm.Info.Printf("Scheduler job id: %s\n", *final.ExternalJobID)
		}
	}
	return nil
}
