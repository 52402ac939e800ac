// Package version reports build metadata.
package version

import (
	"strings"
	"time"
)

const Name = "Chess Combat"

// Set with -ldflags "-X github.com/Larswa/chess-combat/internal/version.Version=...".
var (
	Version   = "dev"
	BuildDate = ""
)

type Info struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	BuildDate           string `json:"build_date"`
	DeploymentTimestamp string `json:"deployment_timestamp"`
}

// Resolve merges link-time values with the environment. Non-empty arguments
// win; missing dates fall back to started.
func Resolve(version, buildDate, buildTimestamp string, started time.Time) Info {
	info := Info{Name: Name, Version: Version, BuildDate: BuildDate}
	if v := strings.TrimSpace(version); v != "" && (info.Version == "" || info.Version == "dev") {
		info.Version = v
	}
	if v := strings.TrimSpace(buildDate); v != "" {
		info.BuildDate = v
	}
	if info.BuildDate == "" {
		info.BuildDate = started.UTC().Format("2006-01-02")
	}
	info.DeploymentTimestamp = strings.TrimSpace(buildTimestamp)
	if info.DeploymentTimestamp == "" {
		info.DeploymentTimestamp = started.UTC().Format(time.RFC3339)
	}
	return info
}
