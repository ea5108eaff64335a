package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags at release time:
//
//	go build -ldflags "-X github.com/talkwire/talkwire-go/internal/version.Version=1.0.0
//	  -X github.com/talkwire/talkwire-go/internal/version.Commit=abc123
//	  -X github.com/talkwire/talkwire-go/internal/version.Date=2026-01-01"
//
// A module-aware build without ldflags fills the gaps from the embedded
// build info instead.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	v, commit, date := Version, Commit, Date
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "unknown" {
					commit = s.Value
				}
			case "vcs.time":
				if date == "unknown" {
					date = s.Value
				}
			}
		}
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("talkwire %s (commit: %s, built: %s, %s/%s)",
		v, commit, date, runtime.GOOS, runtime.GOARCH)
}
