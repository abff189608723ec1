package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scopetools/beamline/cmd/beamline/commands"
	"github.com/scopetools/beamline/logger"
)

var rootCmd = &cobra.Command{
	Use:   "beamline",
	Short: "Beamline - batch job execution and remote orchestration",
	Long: `Beamline - execution core for scientific batch processing.

Beamline submits batch jobs either to a remote workload manager over a
shared SSH session or as detached local processes, tracks their lifecycle
in a local record store, estimates progress from output files, and moves
project storage between active and archive roots.

Available commands:
  submit   - Submit a batch job (local or cluster)
  jobs     - Inspect, cancel and retry job records
  progress - Estimate job progress from output files
  project  - Register, archive, restore and relocate projects
  watch    - Watch running cluster jobs for completion markers
  version  - Show version information

Examples:
  beamline project create proj1 /data/active/proj1
  beamline submit proj1 --type Class2D --output-dir /data/active/proj1/Class2D/job012 \
    -- relion_refine --o Class2D/job012/run --i particles.star
  beamline jobs ls proj1
  beamline progress <job-id> --total 25`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ProgressCmd)
	rootCmd.AddCommand(commands.ProjectCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
