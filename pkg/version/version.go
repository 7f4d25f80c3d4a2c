// Package version reports which build of consolidate is running.
package version

import (
	"fmt"
	"runtime/debug"
)

// Stamped by the release build:
//
//	go build -ldflags "-X github.com/kimcharli/apstra-bp-consolidate/pkg/version.Version=v0.3.0 \
//	  -X github.com/kimcharli/apstra-bp-consolidate/pkg/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/kimcharli/apstra-bp-consolidate/pkg/version.BuildDate=$(date -u +%FT%TZ)"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns "<version> (<commit>) built <date>". Fields not stamped by
// ldflags fall back to what the toolchain recorded in the binary, which
// covers go install builds.
func Info() string {
	v, commit, date := Version, GitCommit, BuildDate
	if bi, ok := debug.ReadBuildInfo(); ok {
		v, commit, date = fromBuildInfo(bi, v, commit, date)
	}
	return fmt.Sprintf("%s (%s) built %s", v, commit, date)
}

func fromBuildInfo(bi *debug.BuildInfo, v, commit, date string) (string, string, string) {
	if v == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && commit == "unknown" && len(s.Value) >= 7:
			commit = s.Value[:7]
		case s.Key == "vcs.time" && date == "unknown":
			date = s.Value
		}
	}
	return v, commit, date
}
