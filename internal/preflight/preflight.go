package preflight

import (
	"context"
	"strings"

	"tbloader/internal/config"
)

// minTempFreeBytes is enough room to stage one Gen2 image plus its zip.
const minTempFreeBytes = 512 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir))
	results = append(results, CheckFreeSpace("Temp free space", cfg.Paths.TempDir, minTempFreeBytes))

	// Collected statistics only land on the local disk with the local backend.
	if cfg.Collection.Backend != config.BackendS3 {
		results = append(results, CheckDirectoryAccess("Collected directory", cfg.Paths.CollectedDir))
		results = append(results, CheckDirectoryAccess("Deployments directory", cfg.Paths.DeploymentsDir))
	} else {
		results = append(results, CheckS3Config(cfg.Collection))
	}

	if strings.TrimSpace(cfg.SRN.ReservationURL) != "" {
		results = append(results, CheckReservationService(ctx, cfg.SRN.ReservationURL, cfg.SRN.APIToken))
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
