// Package version carries build identity stamped in at link time.
package version

import "runtime/debug"

// Set via -ldflags "-X github.com/loomworks/loom/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version string
	Commit  string
	Date    string
}

// Get resolves the build identity. When no commit was stamped in, it falls
// back to the VCS revision recorded in the module build info.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if info.Commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

// String renders "version (commit)" with a shortened hash, or just the
// version when no commit is known.
func String() string {
	info := Get()
	if c := shortHash(info.Commit); c != "" {
		return info.Version + " (" + c + ")"
	}
	return info.Version
}

func shortHash(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
