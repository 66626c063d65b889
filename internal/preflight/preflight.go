package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"vellum/internal/config"
)

// Result is the outcome of one startup check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll runs every check that applies to cfg. Features that are switched
// off skip their checks.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Runtime directory", cfg.Paths.RuntimeDir),
	}

	if cfg.Journal.Enabled && cfg.Journal.Path != "" {
		results = append(results, CheckDirectoryAccess("Journal directory", filepath.Dir(cfg.Journal.Path)))
	}

	// Socket paths must fit in sockaddr_un.
	results = append(results, CheckSocketPath("Control socket", cfg.ControlSocketPath()))

	if strings.TrimSpace(cfg.Engine.Socket) != "" {
		results = append(results, CheckSocketPath("Engine socket", cfg.Engine.Socket))
	} else {
		results = append(results, CheckEngineRuns(ctx, cfg.Engine.Binary))
	}

	return results
}
