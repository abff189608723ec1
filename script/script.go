package script

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Exit-status marker files, touched by the trailing script block so
// filesystem-polling observers can detect completion without a process
// handle. Wrapped tools that self-report write the same files themselves;
// the script only touches a marker that does not already exist.
const (
	MarkerSuccess = "RELION_JOB_EXIT_SUCCESS"
	MarkerFailure = "RELION_JOB_EXIT_FAILURE"
)

// Spec is an immutable description of one batch script.
// Produced and consumed once per submission; never persisted.
type Spec struct {
	JobName         string
	OutputPath      string // stdout redirect
	ErrorPath       string // stderr redirect
	Partition       string
	Tasks           int
	CPUsPerTask     int
	GPUs            int
	ExtraDirectives []string
	WorkDir         string
	Command         []string
}

// Generate produces the scheduler batch-script text for the given spec.
// Pure function: no I/O, no persisted state, exact output asserted in tests.
func Generate(spec Spec, w Wrapping) string {
	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", quoteArg(spec.JobName))
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", quoteArg(spec.OutputPath))
	fmt.Fprintf(&b, "#SBATCH --error=%s\n", quoteArg(spec.ErrorPath))
	if spec.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", spec.Partition)
	}
	if spec.Tasks > 1 {
		fmt.Fprintf(&b, "#SBATCH --ntasks=%d\n", spec.Tasks)
	}
	if spec.CPUsPerTask > 1 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", spec.CPUsPerTask)
	}
	if spec.GPUs > 0 {
		fmt.Fprintf(&b, "#SBATCH --gres=gpu:%d\n", spec.GPUs)
	}
	for _, directive := range spec.ExtraDirectives {
		fmt.Fprintf(&b, "#SBATCH %s\n", directive)
	}
	b.WriteString("\n")

	// Cache directories on node-local scratch so containerized tools never
	// write into the shared home filesystem
	b.WriteString("export APPTAINER_CACHEDIR=/tmp/apptainer-cache\n")
	b.WriteString("export XDG_CACHE_HOME=/tmp/xdg-cache\n")
	b.WriteString("\n")

	if spec.WorkDir != "" {
		fmt.Fprintf(&b, "cd %s\n", quoteArg(spec.WorkDir))
	}

	argv := WrapCommand(spec.Command, w, spec.Tasks, spec.GPUs)
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteArg(arg)
	}
	b.WriteString(strings.Join(quoted, " "))
	b.WriteString("\n")

	// Safety net for wrapped tools that do not self-report completion.
	// Markers live next to the output log so observers watching the output
	// directory see them regardless of the script's working directory.
	successMarker := quoteArg(filepath.Join(filepath.Dir(spec.OutputPath), MarkerSuccess))
	failureMarker := quoteArg(filepath.Join(filepath.Dir(spec.OutputPath), MarkerFailure))
	b.WriteString("if [ $? -eq 0 ]; then\n")
	fmt.Fprintf(&b, "    [ -f %s ] || touch %s\n", successMarker, successMarker)
	b.WriteString("else\n")
	fmt.Fprintf(&b, "    [ -f %s ] || touch %s\n", failureMarker, failureMarker)
	b.WriteString("fi\n")

	return b.String()
}

// quoteArg single-quotes an argument containing whitespace or glob
// characters so the script line survives shell expansion
func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.ContainsAny(arg, " \t*?[]") {
		return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return arg
}
