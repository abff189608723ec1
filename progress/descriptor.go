// Package progress estimates job completion by inspecting output
// directories. Wrapped tools report nothing while they run; the files they
// leave behind are the only progress signal available.
package progress

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scopetools/beamline/errors"
)

// Mode selects how matched files translate into a progress figure
type Mode string

const (
	// ModeCount reports the number of matched files against an expected total
	ModeCount Mode = "count"
	// ModeIteration reports the highest iteration number embedded in
	// matched file names (run_it025_model.star -> 25)
	ModeIteration Mode = "iteration"
	// ModeBoolean reports done/not-done from the presence of any match
	ModeBoolean Mode = "boolean"
)

// Descriptor declares where a job type's progress is visible on disk
type Descriptor struct {
	Subdir      string   `yaml:"subdir"`  // scanned relative to the job output dir
	Include     []string `yaml:"include"` // doublestar glob patterns
	Exclude     []string `yaml:"exclude"`
	Mode        Mode     `yaml:"mode"`
	Description string   `yaml:"description"`
}

// builtinDescriptors covers the standard pipeline job types. Sites with
// custom job types extend or override this table with a YAML descriptor
// file.
var builtinDescriptors = map[string]Descriptor{
	"Import": {
		Mode:        ModeBoolean,
		Include:     []string{"movies.star", "micrographs.star"},
		Description: "import manifest written",
	},
	"MotionCorr": {
		Mode:        ModeCount,
		Subdir:      "Movies",
		Include:     []string{"**/*.mrc"},
		Exclude:     []string{"**/*_PS.mrc"},
		Description: "motion-corrected micrographs",
	},
	"CtfFind": {
		Mode:        ModeCount,
		Subdir:      "Micrographs",
		Include:     []string{"**/*.ctf"},
		Description: "micrographs with fitted CTF",
	},
	"AutoPick": {
		Mode:        ModeCount,
		Subdir:      "Micrographs",
		Include:     []string{"**/*_autopick.star"},
		Description: "picked micrographs",
	},
	"Extract": {
		Mode:        ModeBoolean,
		Include:     []string{"particles.star"},
		Description: "particle stack written",
	},
	"Class2D": {
		Mode:        ModeIteration,
		Include:     []string{"run_it*_model.star"},
		Description: "classification iterations",
	},
	"Class3D": {
		Mode:        ModeIteration,
		Include:     []string{"run_it*_model.star"},
		Description: "classification iterations",
	},
	"Refine3D": {
		Mode:        ModeIteration,
		Include:     []string{"run_it*_half1_model.star"},
		Description: "refinement iterations",
	},
	"PostProcess": {
		Mode:        ModeBoolean,
		Include:     []string{"postprocess.star"},
		Description: "postprocessing finished",
	},
}

// loadDescriptorTable returns the built-in table, overlaid with the
// optional YAML descriptor file. File entries replace built-ins of the
// same job type wholesale.
func loadDescriptorTable(path string) (map[string]Descriptor, error) {
	table := make(map[string]Descriptor, len(builtinDescriptors))
	for jobType, d := range builtinDescriptors {
		table[jobType] = d
	}
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read descriptor file %s", path)
	}

	var overrides map[string]Descriptor
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, errors.Wrapf(err, "failed to parse descriptor file %s", path)
	}

	for jobType, d := range overrides {
		switch d.Mode {
		case ModeCount, ModeIteration, ModeBoolean:
		default:
			return nil, errors.NewConfigurationError(
				"descriptor %s has unknown mode %q", jobType, d.Mode)
		}
		table[jobType] = d
	}
	return table, nil
}
