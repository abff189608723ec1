package script

import (
	"strconv"
	"strings"

	"github.com/scopetools/beamline/config"
)

// Wrapping carries the container and launcher configuration applied to a
// command, both in the generated script text and in the in-memory argument
// vector used for local execution.
type Wrapping struct {
	Container config.ContainerConfig
	Launcher  config.LauncherConfig
}

// WrapCommand applies the container and launcher wrapping to an argument
// vector, in this precedence: the container-exec prefix wraps the command
// itself, and the parallel launcher sits outside the container wrapper so
// it can spawn multiple container instances.
//
// When the incoming vector already starts with the launcher token (trusted
// command builders emit e.g. ["mpirun","-np","4","relion_refine_mpi",...]),
// the launcher and its arguments are kept in front and only the remainder
// is container-wrapped. Otherwise a launcher prefix is added when tasks > 1.
func WrapCommand(argv []string, w Wrapping, tasks, gpus int) []string {
	if len(argv) == 0 {
		return nil
	}

	prefix, rest := splitLauncherPrefix(argv, w.Launcher.Command)

	wrapped := rest
	if w.Container.Enabled() {
		wrapped = append(containerPrefix(w.Container, gpus), rest...)
	}

	if len(prefix) == 0 && tasks > 1 && w.Launcher.Command != "" {
		prefix = []string{w.Launcher.Command, w.Launcher.NProcFlag, strconv.Itoa(tasks)}
	}

	out := make([]string, 0, len(prefix)+len(wrapped))
	out = append(out, prefix...)
	out = append(out, wrapped...)
	return out
}

// containerPrefix builds the container-exec prefix: runtime, exec verb,
// bind mounts, the accelerator flag only when gpus > 0, then the image.
func containerPrefix(c config.ContainerConfig, gpus int) []string {
	prefix := []string{c.Runtime, "exec"}
	for _, bind := range c.Binds {
		prefix = append(prefix, "--bind", bind)
	}
	if gpus > 0 && c.GPUFlag != "" {
		prefix = append(prefix, c.GPUFlag)
	}
	return append(prefix, c.Image)
}

// splitLauncherPrefix detects a leading launcher token and returns the
// launcher segment separately from the command it launches. Launcher flags
// consume a following numeric value (e.g. "-np 4"); the first token that is
// neither a flag nor such a value starts the wrapped command.
func splitLauncherPrefix(argv []string, launcher string) (prefix, rest []string) {
	if launcher == "" || argv[0] != launcher {
		return nil, argv
	}

	i := 1
	for i < len(argv) {
		if strings.HasPrefix(argv[i], "-") {
			i++
			if i < len(argv) && isNumeric(argv[i]) {
				i++
			}
			continue
		}
		break
	}
	return argv[:i], argv[i:]
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
