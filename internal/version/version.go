// Package version exposes build metadata stamped with -ldflags, with
// fallbacks read from the embedded module build info.
package version

import "runtime/debug"

// AppName is the service name used for logs, metrics and traces.
const AppName = "webguard"

// Set at link time: -X github.com/keithlinneman/webguard/internal/version.Version=...
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
	BuildID   string
)

type Info struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	Modified   *bool  `json:"vcs_modified,omitempty"`
}

// Get merges link-time values with vcs settings from debug.ReadBuildInfo.
func Get() Info {
	out := Info{
		App:       AppName,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	applyBuildInfo(&out, bi)
	return out
}

func applyBuildInfo(out *Info, bi *debug.BuildInfo) {
	out.GoVersion = bi.GoVersion
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			m := s.Value == "true"
			out.Modified = &m
		}
	}
}

// Short returns the first 12 characters of the commit for display.
func (i Info) Short() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}
