package policy

import (
	"strings"
)

// baseCommand extracts the base executable from a raw command line: the
// first whitespace-delimited token with any directory prefix stripped,
// lower-cased. Returns "" for an empty command line.
func baseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	first := strings.Trim(fields[0], `"'`)
	if first == "" {
		return ""
	}
	if i := strings.LastIndexAny(first, `/\`); i >= 0 {
		first = first[i+1:]
	}
	if first == "" {
		return ""
	}
	return strings.ToLower(first)
}
