package commands

import (
	"fmt"
	"os/user"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/relocate"
)

// ProjectCmd represents the project command - project storage operations
var ProjectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects and their storage location",
	Long: `Manage projects and move their storage between roots.

Storage commands:
  beamline project create <id> <path>        # Register a project
  beamline project archive <id>              # Move to the archive root
  beamline project restore <id>              # Move back to the active root
  beamline project relocate <id> <new-path>  # Point at an existing directory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// ProjectCreateCmd registers a new project
var ProjectCreateCmd = &cobra.Command{
	Use:   "create <project-id> <path>",
	Short: "Register a project at an existing directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectCreate(args[0], args[1])
	},
}

// ProjectArchiveCmd moves a project to the archive root
var ProjectArchiveCmd = &cobra.Command{
	Use:   "archive <project-id>",
	Short: "Move a project's data to the archive root",
	Long: `Move a project's data to the archive root.

The command acknowledges immediately; the move itself runs in the
background and flips the archived flag only once the data has actually
moved. A failed move leaves everything unchanged and can be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectMove(cmd, args[0], "archive")
	},
}

// ProjectRestoreCmd moves a project back to the active root
var ProjectRestoreCmd = &cobra.Command{
	Use:   "restore <project-id>",
	Short: "Move an archived project back to the active root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectMove(cmd, args[0], "restore")
	},
}

// ProjectRelocateCmd repoints a project at a directory moved out of band
var ProjectRelocateCmd = &cobra.Command{
	Use:   "relocate <project-id> <new-path>",
	Short: "Point a project at an already-moved directory (privileged)",
	Long: `Point a project at a directory that was already moved by other means.

No data is moved; recorded job paths are rewritten synchronously. The
archived flag follows from whether the new path sits under the active or
the archive root.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectRelocate(cmd, args[0], args[1])
	},
}

func init() {
	ProjectRelocateCmd.Flags().Bool("privileged", false, "Confirm the caller holds administrative rights")

	ProjectCmd.AddCommand(ProjectCreateCmd)
	ProjectCmd.AddCommand(ProjectArchiveCmd)
	ProjectCmd.AddCommand(ProjectRestoreCmd)
	ProjectCmd.AddCommand(ProjectRelocateCmd)
}

// currentActor identifies the invoking OS user for authorization and logs
func currentActor(privileged bool) relocate.Actor {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return relocate.Actor{Name: name, Privileged: privileged}
}

func runProjectCreate(projectID, path string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	now := time.Now()
	p := &job.Project{
		ID:        projectID,
		Name:      projectID,
		Path:      path,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateProject(p); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	pterm.Success.Printf("Project %s registered at %s\n", projectID, path)
	return nil
}

func runProjectMove(cmd *cobra.Command, projectID, direction string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	engine := newEngine(a)
	actor := currentActor(false)

	var ack *relocate.Ack
	if direction == "archive" {
		ack, err = engine.Archive(cmd.Context(), projectID, actor)
	} else {
		ack, err = engine.Restore(cmd.Context(), projectID, actor)
	}
	if err != nil {
		return fmt.Errorf("failed to %s project: %w", direction, err)
	}

	pterm.Info.Printf("Moving %s -> %s\n", ack.From, ack.To)
	engine.Wait()

	p, err := a.store.GetProject(projectID)
	if err != nil {
		return err
	}
	if p.Path != ack.To {
		pterm.Warning.Printf("Move did not complete; project still at %s (see logs, retry when resolved)\n", p.Path)
		return nil
	}
	pterm.Success.Printf("Project %s now at %s\n", projectID, p.Path)
	return nil
}

func runProjectRelocate(cmd *cobra.Command, projectID, newPath string) error {
	privileged, _ := cmd.Flags().GetBool("privileged")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ack, err := newEngine(a).Relocate(cmd.Context(), projectID, newPath, currentActor(privileged))
	if err != nil {
		return fmt.Errorf("failed to relocate project: %w", err)
	}
	pterm.Success.Printf("Project %s repointed from %s to %s\n", projectID, ack.From, ack.To)
	return nil
}
