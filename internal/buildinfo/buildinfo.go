// Package buildinfo holds build-time metadata injected with -ldflags.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/tphakala/docworker/internal/buildinfo.version=..."
var (
	version   string
	commit    string
	buildDate string
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
}

// Current returns the metadata linked into the binary.
func Current() Info {
	return New(version, commit, buildDate)
}

// New returns Info with empty values replaced by UnknownValue.
func New(version, commit, buildDate string) Info {
	return Info{
		Version:   orUnknown(version),
		Commit:    orUnknown(commit),
		BuildDate: orUnknown(buildDate),
	}
}

// String formats the version line printed by --version.
func (i Info) String() string {
	if i.Commit == UnknownValue {
		return i.Version
	}
	return fmt.Sprintf("%s (%s, built %s)", i.Version, i.Commit, i.BuildDate)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
