package preflight

import (
	"context"
	"os"

	"folio/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// The page store check only runs when the store is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if cfg.Terminal.Transfer != config.TransferNone {
		results = append(results, CheckTerminal(os.Stdout.Fd()))
	}
	if cfg.Terminal.Transfer == config.TransferAuto || cfg.Terminal.Transfer == config.TransferShm {
		results = append(results, CheckSharedMemory())
	}

	if cfg.PageStore.Enabled {
		results = append(results, CheckPageStore(ctx, cfg.PageStore.Path))
	}

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
