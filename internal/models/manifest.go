// Package models resolves and downloads the model weights a workflow
// needs: checkpoints, VAEs, text encoders. Assets come from a TOML
// manifest or from a built-in preset, and downloads resume, retry, and
// verify so a flaky mirror never leaves a truncated file behind.
package models

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"easel/internal/config"
)

//go:embed presets/*.toml
var presetFS embed.FS

// Asset describes one downloadable model file.
type Asset struct {
	// Name is the filename the asset is stored under.
	Name string `toml:"name"`
	// Kind selects the ComfyUI models subdirectory (checkpoints, vae,
	// text_encoders, diffusion_models, loras, ...).
	Kind string `toml:"kind"`
	// Source is an https:// or s3:// URL.
	Source string `toml:"source"`
	// SHA256 is the expected hex digest; empty skips the hash check.
	SHA256 string `toml:"sha256"`
	// Size is the expected byte count; zero skips the exact-size check.
	Size int64 `toml:"size"`
}

// Manifest is a set of assets to ensure on disk.
type Manifest struct {
	Assets []Asset `toml:"assets"`
}

func (m *Manifest) validate() error {
	seen := make(map[string]struct{}, len(m.Assets))
	for i, asset := range m.Assets {
		if strings.TrimSpace(asset.Name) == "" {
			return fmt.Errorf("asset %d: name is required", i)
		}
		if strings.TrimSpace(asset.Kind) == "" {
			return fmt.Errorf("asset %q: kind is required", asset.Name)
		}
		if strings.TrimSpace(asset.Source) == "" {
			return fmt.Errorf("asset %q: source is required", asset.Name)
		}
		key := asset.Kind + "/" + asset.Name
		if _, dup := seen[key]; dup {
			return fmt.Errorf("asset %q listed twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// LoadManifest parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (*Manifest, error) {
	manifest := &Manifest{}
	if err := toml.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// PresetManifest returns the built-in manifest for a known preset.
func PresetManifest(name string) (*Manifest, error) {
	data, err := presetFS.ReadFile("presets/" + name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("unknown model preset %q (known: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return parseManifest(data)
}

// PresetNames lists the built-in presets in sorted order.
func PresetNames() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".toml"))
	}
	sort.Strings(names)
	return names
}

// Resolve combines the configured presets and manifest file into a single
// deduplicated manifest. Manifest file entries win over preset entries
// with the same kind/name.
func Resolve(cfg *config.Config) (*Manifest, error) {
	merged := &Manifest{}
	index := make(map[string]int)

	add := func(asset Asset) {
		key := asset.Kind + "/" + asset.Name
		if at, ok := index[key]; ok {
			merged.Assets[at] = asset
			return
		}
		index[key] = len(merged.Assets)
		merged.Assets = append(merged.Assets, asset)
	}

	for _, preset := range cfg.Models.Presets {
		manifest, err := PresetManifest(preset)
		if err != nil {
			return nil, err
		}
		for _, asset := range manifest.Assets {
			add(asset)
		}
	}

	if path := strings.TrimSpace(cfg.Models.ManifestPath); path != "" {
		manifest, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		for _, asset := range manifest.Assets {
			add(asset)
		}
	}

	return merged, nil
}
