// Package version exposes build metadata for the CLI.
package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

// String renders the human-readable version.
func String() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
