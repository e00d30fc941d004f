package models

import (
	"regexp"
	"strings"
)

var (
	spacesAndDots  = regexp.MustCompile(`[. ]`)
	nonWordChars   = regexp.MustCompile(`[^a-z0-9_]`)
	underscoreRuns = regexp.MustCompile(`_{2,}`)
)

// NormalizeMonitorName lowercases the name, turns dots and spaces into
// underscores, strips every other non-alphanumeric character and collapses
// underscore runs. The result is stable: normalizing twice returns the same
// value.
func NormalizeMonitorName(name string) string {
	name = strings.ToLower(name)
	name = spacesAndDots.ReplaceAllString(name, "_")
	name = nonWordChars.ReplaceAllString(name, "")
	name = underscoreRuns.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}
