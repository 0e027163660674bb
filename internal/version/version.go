// Package version holds build metadata set via ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Commit returns GitSHA, falling back to the VCS revision recorded by the Go
// toolchain.
func Commit() string {
	if GitSHA != "unknown" && GitSHA != "" {
		return GitSHA
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 7 {
					return setting.Value[:7]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// String formats the version for display and for the User-Agent header.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit(), BuildTime)
}

// UserAgent is sent with every request to the traffic data API.
func UserAgent() string {
	return "cqrtraffic/" + Version
}
