package buildinfo

import (
	"runtime/debug"
	"strings"
	"testing"
)

// stamp sets the ldflags variables for one test and restores them.
func stamp(t *testing.T, version, commit, built string) {
	t.Helper()
	v, c, b := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = v, c, b })
}

func TestFillFromBuildInfo_Unstamped(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")

	fillFromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	if Version != "v1.2.0" {
		t.Errorf("Version = %q, want v1.2.0", Version)
	}
	if GitCommit != "0123456789ab-dirty" {
		t.Errorf("GitCommit = %q, want 0123456789ab-dirty", GitCommit)
	}
	if BuildTime != "2026-03-01T12:00:00Z" {
		t.Errorf("BuildTime = %q", BuildTime)
	}
}

func TestFillFromBuildInfo_StampedWins(t *testing.T) {
	stamp(t, "v2.0.0", "feedface", "yesterday")

	fillFromBuildInfo(&debug.BuildInfo{
		Main:     debug.Module{Version: "v1.2.0"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
	})

	if Version != "v2.0.0" || GitCommit != "feedface" || BuildTime != "yesterday" {
		t.Errorf("stamped values overwritten: %s %s %s", Version, GitCommit, BuildTime)
	}
}

func TestFillFromBuildInfo_DevelModule(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")

	fillFromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	if Version != "dev" || GitCommit != "unknown" {
		t.Errorf("got %s %s, want dev unknown", Version, GitCommit)
	}
}

func TestInfoAndString(t *testing.T) {
	stamp(t, "v0.9.0", "abc123", "now")

	info := Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch", "uptime"} {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
	if got := String(); got != "datalookup v0.9.0 (abc123) built now" {
		t.Errorf("String() = %q", got)
	}
	if got := UserAgent(); !strings.HasPrefix(got, "datalookup/v0.9.0") {
		t.Errorf("UserAgent() = %q", got)
	}
}
