package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/scopetools/beamline/logger"
	"github.com/scopetools/beamline/progress"
)

// ProgressCmd estimates a job's progress from its output directory
var ProgressCmd = &cobra.Command{
	Use:   "progress <job-id>",
	Short: "Estimate job progress from its output files",
	Long: `Estimate a job's progress by scanning its output directory.

The estimate is derived from the files the tool has written so far;
job types without a progress descriptor report nothing.

Example:
  beamline progress 4be31c22 --total 1500`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		total, _ := cmd.Flags().GetInt("total")
		return runProgress(args[0], total)
	},
}

func init() {
	ProgressCmd.Flags().Int("total", 0, "Expected total (e.g. micrograph or iteration count)")
}

func runProgress(jobID string, total int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	j, err := a.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	estimator, err := progress.NewEstimator(a.cfg.Progress, logger.Logger)
	if err != nil {
		return err
	}
	defer estimator.Close()

	est, err := estimator.Estimate(j.OutputDir, j.JobType, total)
	if err != nil {
		return fmt.Errorf("failed to estimate progress: %w", err)
	}
	if est == nil {
		pterm.Info.Printf("No progress descriptor for job type %q\n", j.JobType)
		return nil
	}

	fmt.Printf("Job: %s (%s)\n", j.ID, j.JobType)
	fmt.Printf("  %s: %d", est.Description, est.Done)
	if est.Total > 0 {
		fmt.Printf("/%d (%.0f%%)", est.Total, est.Fraction()*100)
	}
	fmt.Printf("\n")
	return nil
}
