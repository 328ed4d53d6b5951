package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"easel/internal/api"
	"easel/internal/ipc"
	"easel/internal/logging"
	"easel/internal/models"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and download model assets",
	}

	modelsCmd.AddCommand(newModelsListCommand(ctx))
	modelsCmd.AddCommand(newModelsDownloadCommand(ctx))
	modelsCmd.AddCommand(newModelsPresetsCommand())

	return modelsCmd
}

func newModelsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the resolved model manifest and local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			assets, err := resolveModelAssets(ctx)
			if err != nil {
				return err
			}
			if len(assets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No model assets configured (set models.presets or models.manifest_path)")
				return nil
			}

			rows := make([][]string, 0, len(assets))
			for _, asset := range assets {
				state := "missing"
				if asset.Present {
					state = "present"
				}
				sizeLabel := "-"
				if asset.Size > 0 {
					sizeLabel = humanize.Bytes(uint64(asset.Size))
				}
				rows = append(rows, []string{asset.Kind, asset.Name, sizeLabel, state})
			}

			table := renderTable(
				[]string{"Kind", "Name", "Size", "State"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

// resolveModelAssets asks the daemon for manifest state when it is running,
// falling back to resolving the manifest locally.
func resolveModelAssets(ctx *commandContext) ([]api.ModelAsset, error) {
	if client, err := ipc.Dial(ctx.socketPath()); err == nil {
		defer client.Close()
		resp, err := client.ModelsStatus()
		if err != nil {
			return nil, err
		}
		return resp.Assets, nil
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	manifest, err := models.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	assets := make([]api.ModelAsset, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		dest := filepath.Join(cfg.ModelDir(asset.Kind), asset.Name)
		entry := api.ModelAsset{Kind: asset.Kind, Name: asset.Name, Size: asset.Size, Path: dest}
		if info, statErr := os.Stat(dest); statErr == nil {
			entry.Present = true
			entry.Size = info.Size()
		}
		assets = append(assets, entry)
	}
	return assets, nil
}

func newModelsDownloadCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download missing or corrupt model assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manifest, err := models.Resolve(cfg)
			if err != nil {
				return err
			}
			if len(manifest.Assets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No model assets configured (set models.presets or models.manifest_path)")
				return nil
			}

			level := strings.TrimSpace(logLevel)
			if level == "" {
				level = cfg.Logging.Level
			}
			logger, err := logging.New(logging.Options{Level: level, Format: "console"})
			if err != nil {
				return err
			}

			downloader := models.NewDownloader(cfg, logger, models.WithProgressBar(shouldColorize(cmd.OutOrStdout())))
			if err := downloader.EnsureAll(cmd.Context(), manifest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All %d model assets are present\n", len(manifest.Assets))
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newModelsPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "presets",
		Short:       "List built-in model presets",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			names := models.PresetNames()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No built-in presets available")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
