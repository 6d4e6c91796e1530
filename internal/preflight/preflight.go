package preflight

import (
	"context"

	"optibatch/internal/config"
	"optibatch/internal/remote"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes every check applicable to cfg. The remote check is
// skipped when the client cannot be built; CheckRemoteConfig reports why.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	configured := CheckRemoteConfig(cfg)
	if !configured.Passed {
		return append(results, configured)
	}
	client, err := remote.NewFromConfig(cfg)
	if err != nil {
		return append(results, Result{Name: remoteCheckName, Detail: err.Error()})
	}
	return append(results, CheckRemote(ctx, client))
}
