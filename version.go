package marquee

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build metadata, set with -ldflags "-X github.com/ambiyansyah-risyal/marquee.GitCommit=...".
var (
	Version   = "v0.3.0"
	GitCommit = ""
	BuildDate = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// ReadBuildInfo returns the build metadata. Values not injected at link time
// are taken from the VCS stamp embedded by the go command.
func ReadBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "":
				info.BuildDate = s.Value
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

// String renders the build info on one line.
func (b BuildInfo) String() string {
	return fmt.Sprintf("marquee %s (commit: %s, built: %s, go: %s)", b.Version, b.Commit, b.BuildDate, b.GoVersion)
}

// GetVersion returns a human-readable version string.
func GetVersion() string {
	return ReadBuildInfo().String()
}
