package version

import "runtime/debug"

// Set via ldflags at release time
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

// GetVersion returns the release version, or the module version recorded
// by `go install` for development builds.
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return Version
}

// GetFullVersion returns the version with build details.
func GetFullVersion() string {
	return GetVersion() + " (commit: " + Commit + ", built: " + Date + ", by: " + BuiltBy + ")"
}
