package server

import (
	"regexp"
	"strings"
)

var addressListSeparator = regexp.MustCompile("[,\n]")

// SplitAddressList splits entries that hold several addresses separated by commas and/or newlines,
// as happens when a list comes from a single environment variable.
// Examples:
//   - ["10.0.0.2,10.0.0.3"] -> ["10.0.0.2", "10.0.0.3"]
//   - ["10.0.0.2\n 10.0.0.3"] -> ["10.0.0.2", "10.0.0.3"]
//   - ["10.0.0.2", ""] -> ["10.0.0.2"]
func SplitAddressList(entries []string) []string {
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		for _, part := range addressListSeparator.Split(entry, -1) {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
