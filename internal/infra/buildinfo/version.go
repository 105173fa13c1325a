package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// Build-time variables, set with
//
//	go build -ldflags "-X github.com/yndnr/querydeck-go/internal/infra/buildinfo.Version=v1.0.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info contains build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the build information. When Commit was not injected, the VCS
// revision recorded by the Go toolchain is used.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

// String returns "version (commit) built at time".
func String() string {
	i := Get()
	return i.Version + " (" + i.Commit + ") built at " + i.BuildTime
}

// UserAgent returns the User-Agent value for a QueryDeck component.
func UserAgent(component string) string {
	return component + "/" + Version
}
