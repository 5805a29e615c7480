package version

import (
	"runtime/debug"
	"testing"
)

func TestApplyBuildInfo_VCSSettings(t *testing.T) {
	out := Info{Version: "dev", Commit: "none"}
	applyBuildInfo(&out, &debug.BuildInfo{
		GoVersion: "go1.24.11",
		Main:      debug.Module{Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	if out.GoVersion != "go1.24.11" {
		t.Fatalf("GoVersion = %q", out.GoVersion)
	}
	if out.Version != "v0.3.0" {
		t.Fatalf("Version = %q, want module version", out.Version)
	}
	if out.Commit != "0123456789abcdef0123" || out.Short() != "0123456789ab" {
		t.Fatalf("Commit = %q short = %q", out.Commit, out.Short())
	}
	if out.BuildDate != "2026-01-02T03:04:05Z" || out.CommitDate != out.BuildDate {
		t.Fatalf("dates = %q / %q", out.BuildDate, out.CommitDate)
	}
	if out.Modified == nil || !*out.Modified {
		t.Fatalf("Modified = %v, want true", out.Modified)
	}
}

func TestApplyBuildInfo_LinkTimeValuesWin(t *testing.T) {
	out := Info{Version: "1.2.3", Commit: "abc", BuildDate: "yesterday"}
	applyBuildInfo(&out, &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "def"},
			{Key: "vcs.time", Value: "today"},
		},
	})
	if out.Version != "1.2.3" || out.Commit != "abc" || out.BuildDate != "yesterday" {
		t.Fatalf("link-time values overwritten: %+v", out)
	}
	if out.Modified != nil {
		t.Fatalf("Modified = %v, want nil without vcs.modified", out.Modified)
	}
}

func TestGet_AppName(t *testing.T) {
	if Get().App != AppName {
		t.Fatalf("App = %q", Get().App)
	}
}
