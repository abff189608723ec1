package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/scopetools/beamline/logger"
	"github.com/scopetools/beamline/submit"
)

// WatchCmd runs the cluster completion monitor in the foreground
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch running cluster jobs for completion markers",
	Long: `Watch the output directories of running cluster jobs for the exit-status
marker files their batch scripts write, and finish the jobs accordingly.

Cluster processes run out of reach of a process wait, so this watcher is
what moves them to their terminal state. Run it wherever the job output
filesystem is mounted.

Example:
  beamline watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

func runWatch() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	monitor, err := submit.NewMonitor(a.store, a.notifier, nil, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	events := a.notifier.Subscribe()
	defer a.notifier.Unsubscribe(events)

	monitor.Start(context.Background())
	defer monitor.Stop()
	pterm.Info.Println("Watching running cluster jobs (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev := <-events:
			pterm.Info.Printf("Job %s: %s -> %s\n", ev.JobID, ev.OldStatus, ev.NewStatus)
		case <-sigCh:
			pterm.Info.Println("\nShutting down")
			return nil
		}
	}
}
