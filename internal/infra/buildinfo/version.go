// Package buildinfo reports the version of the running binary.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "-X github.com/codeaudit/cougaar-core-sub004/internal/infra/buildinfo.Version=v1.0.0"
//
// Development builds fall back to the VCS stamp the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

const shortCommit = 12

// Info describes a build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information. Values not set through ldflags are
// taken from the embedded VCS settings, and "unknown" when absent.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fromSettings(&info, bi.Settings)
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

func fromSettings(info *Info, settings []debug.BuildSetting) {
	ldflagsCommit := info.Commit != ""
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if !ldflagsCommit {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = !ldflagsCommit && s.Value == "true"
		}
	}
	if !ldflagsCommit && len(info.Commit) > shortCommit {
		info.Commit = info.Commit[:shortCommit]
	}
}

// String formats the build as "version (commit, go) built at time".
func String() string {
	i := Get()
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s) built at %s", i.Version, commit, i.GoVersion, i.BuildTime)
}
