// Package buildinfo carries version data stamped in at link time.
package buildinfo

import "time"

// Set via -ldflags at build time
var (
	Version    string // release tag
	CommitHash string // short git commit hash
	BuildTime  string // when the binary was compiled
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC()

// Info is reported by the health endpoint and the startup log
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit,omitempty"`
	BuildTime  string `json:"buildTime,omitempty"`
	StartedAt  string `json:"startedAt"`
	Uptime     string `json:"uptime"`
}

// Current returns the stamped build data and the process uptime
func Current() Info {
	v := Version
	if v == "" {
		v = "dev"
	}
	return Info{
		Version:    v,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		StartedAt:  StartTime.Format(time.RFC3339),
		Uptime:     time.Since(StartTime).Round(time.Second).String(),
	}
}
