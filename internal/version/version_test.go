package version

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	info := Resolve("", "", "", started)
	if info.Name != "Chess Combat" || info.Version != "dev" {
		t.Fatalf("info = %+v", info)
	}
	if info.BuildDate != "2026-10-01" || info.DeploymentTimestamp != "2026-10-01T12:00:00Z" {
		t.Fatalf("fallback dates = %+v", info)
	}

	info = Resolve("1.4.0", "2026-09-30", "2026-09-30T08:00:00Z", started)
	if info.Version != "1.4.0" || info.BuildDate != "2026-09-30" || info.DeploymentTimestamp != "2026-09-30T08:00:00Z" {
		t.Fatalf("explicit = %+v", info)
	}
}
