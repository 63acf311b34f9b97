package preflight

import (
	"context"

	"schoolsync/internal/config"
)

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

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDatabaseFile("Outbox database", cfg.OutboxPath()),
	}

	if cfg.Worker.Enabled {
		results = append(results, CheckDatabaseFile("Asset cache", cfg.AssetCachePath()))
	}

	if dataDir := results[0]; dataDir.Passed {
		results = append(results, CheckFreeSpace("Free space", cfg.Paths.DataDir, cfg.Outbox.MaxBytes))
	}

	results = append(results, CheckBackend(ctx, cfg))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
