package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// JobsCmd represents the jobs command - job record operations
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage job records",
	Long: `Inspect and manage batch job records.

Job management commands:
  beamline jobs ls <project-id>   # List jobs in a project
  beamline jobs status <job-id>   # Show job details
  beamline jobs cancel <job-id>   # Cancel a running job
  beamline jobs retry <job-id>    # Reset a terminal job to pending`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists the jobs of a project
var JobsLsCmd = &cobra.Command{
	Use:   "ls <project-id>",
	Short: "List jobs in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsLs(args[0])
	},
}

// JobsStatusCmd shows one job in detail
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

// JobsCancelCmd cancels a running job
var JobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Long: `Cancel a running job.

Cluster jobs are signalled through the workload manager; local jobs
receive SIGTERM. The record is marked cancelled either way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(cmd, args[0])
	},
}

// JobsRetryCmd resets a terminal job to pending
var JobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Reset a terminal job to pending",
	Long: `Reset a finished, failed or cancelled job back to pending.

This is the only way out of a terminal state; the job can then be
submitted again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsRetry(args[0])
	},
}

func init() {
	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
	JobsCmd.AddCommand(JobsCancelCmd)
	JobsCmd.AddCommand(JobsRetryCmd)
}

func runJobsLs(projectID string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	jobs, err := a.store.ListByProject(projectID)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) == 0 {
		pterm.Info.Printf("No jobs in project %s\n", projectID)
		return nil
	}

	rows := pterm.TableData{{"JOB ID", "TYPE", "STATUS", "MODE", "SCHEDULER ID", "OUTPUT DIR"}}
	for _, j := range jobs {
		externalID := "-"
		if j.ExternalJobID != nil {
			externalID = *j.ExternalJobID
		}
		rows = append(rows, []string{
			truncate(j.ID, 20),
			j.JobType,
			string(j.Status),
			string(j.ExecutionMode),
			externalID,
			truncate(j.OutputDir, 40),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	j, err := a.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job ID: %s\n", j.ID)
	fmt.Printf("  Project: %s\n", j.ProjectID)
	fmt.Printf("  Type: %s\n", j.JobType)
	fmt.Printf("  Status: %s\n", j.Status)
	fmt.Printf("  Mode: %s\n", j.ExecutionMode)
	if j.ExternalJobID != nil {
		fmt.Printf("  Scheduler ID: %s\n", *j.ExternalJobID)
	}
	if j.LocalPID != nil {
		fmt.Printf("  PID: %d\n", *j.LocalPID)
	}
	fmt.Printf("  Output: %s\n", j.OutputDir)
	if j.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", j.ErrorMessage)
	}
	fmt.Printf("\n")
	fmt.Printf("Created: %s\n", j.CreatedAt.Format("2006-01-02 15:04:05"))
	if j.StartedAt != nil {
		fmt.Printf("Started: %s\n", j.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if j.EndedAt != nil {
		fmt.Printf("Ended: %s\n", j.EndedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runJobsCancel(cmd *cobra.Command, jobID string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.Cancel(cmd.Context(), jobID); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	pterm.Success.Printf("Job %s cancelled\n", jobID)
	return nil
}

func runJobsRetry(jobID string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Retry(jobID); err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	j, err := a.store.GetJob(jobID)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Job %s reset to %s\n", jobID, j.Status)
	return nil
}
