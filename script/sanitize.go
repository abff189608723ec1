// Package script generates scheduler batch scripts and validates the
// parameters that flow into them.
package script

import (
	"regexp"
	"strings"

	"github.com/scopetools/beamline/errors"
)

// shellMetaChars are rejected in every sanitized field regardless of the
// field-specific allow pattern. One of these inside a scheduler directive
// or script path is enough to break out of the intended command.
const shellMetaChars = ";|&`$()<>{}!\\\n"

// fieldPatterns are per-field allow patterns applied after the
// metacharacter check. Fields without a pattern only get the
// metacharacter check.
var fieldPatterns = map[string]*regexp.Regexp{
	"jobName":       regexp.MustCompile(`^[A-Za-z0-9._\- ]+$`),
	"partition":     regexp.MustCompile(`^[A-Za-z0-9_\-]+$`),
	"submitCommand": regexp.MustCompile(`^[a-z]+$`),
	"outputDir":     regexp.MustCompile(`^[A-Za-z0-9._/\- ]+$`),
	"workDir":       regexp.MustCompile(`^[A-Za-z0-9._/\- ]+$`),
}

// Sanitize validates a field value against the global metacharacter
// blocklist and the field's allow pattern. The offending field is named
// in the returned validation error.
func Sanitize(field, value string) error {
	if value == "" {
		return nil
	}
	if HasShellMetacharacters(value) {
		return errors.NewValidationError("%s contains shell metacharacters: %q", field, value)
	}
	if pattern, ok := fieldPatterns[field]; ok && !pattern.MatchString(value) {
		return errors.NewValidationError("%s does not match allowed pattern: %q", field, value)
	}
	return nil
}

// HasShellMetacharacters reports whether the value contains any character
// from the global blocklist
func HasShellMetacharacters(value string) bool {
	return strings.ContainsAny(value, shellMetaChars)
}

// submitCommandAllowList is the fixed set of recognized scheduler submit
// commands. Anything else falls back to the safe default.
var submitCommandAllowList = map[string]bool{
	"sbatch": true,
	"qsub":   true,
	"bsub":   true,
}

// DefaultSubmitCommand is used when the configured submit command is not
// on the allow-list
const DefaultSubmitCommand = "sbatch"

// ResolveSubmitCommand returns the submit command if recognized, else the
// safe default
func ResolveSubmitCommand(configured string) string {
	if submitCommandAllowList[configured] {
		return configured
	}
	return DefaultSubmitCommand
}
