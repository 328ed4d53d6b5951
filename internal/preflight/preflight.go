package preflight

import (
	"context"

	"easel/internal/config"
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

	var results []Result

	// Core directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))

	// Models directory plus free space for downloads
	if cfg.Paths.ModelsDir != "" {
		results = append(results, CheckDirectoryAccess("Models directory", cfg.Paths.ModelsDir))
		if cfg.Models.MinFreeSpaceGB > 0 {
			results = append(results, CheckFreeSpace("Models disk space", cfg.Paths.ModelsDir, cfg.Models.MinFreeSpaceGB))
		}
	}

	// Model manifest (when configured or presets selected)
	if cfg.Models.ManifestPath != "" || len(cfg.Models.Presets) > 0 {
		results = append(results, CheckManifest(cfg))
	}

	// ComfyUI reachability. When easeld supervises ComfyUI itself the
	// server is not up yet at preflight time, so only an external server
	// is probed here.
	if !cfg.Comfy.Managed {
		results = append(results, CheckComfy(ctx, cfg.ComfyBaseURL()))
	}

	// Object store credentials
	if cfg.ObjectStore.Enabled {
		results = append(results, CheckObjectStoreConfig(cfg))
	}

	return results
}
