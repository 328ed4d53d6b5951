// Package artifacts gathers the images a finished prompt produced,
// persists them under the output directory, and packages them for the
// response: inline base64 by default, object store URLs when uploads are
// configured.
package artifacts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/logging"
)

// Artifact is one generated image ready to hand back to a caller.
type Artifact struct {
	// Filename is the name ComfyUI wrote the image under.
	Filename string `json:"filename"`
	// Type is how Data should be interpreted: "base64" or "url".
	Type string `json:"type"`
	// Data carries the base64 payload or the object store URL.
	Data string `json:"data"`
	// LocalPath is where the daemon persisted the bytes.
	LocalPath string `json:"local_path,omitempty"`
}

// ImageFetcher retrieves image bytes from ComfyUI. Satisfied by
// *comfy.Client.
type ImageFetcher interface {
	View(ctx context.Context, image comfy.OutputImage) ([]byte, error)
}

// Uploader pushes artifact bytes to the object store. Satisfied by
// *objectstore.Uploader.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// Collector turns a prompt's history outputs into persisted artifacts.
type Collector struct {
	cfg      *config.Config
	fetcher  ImageFetcher
	uploader Uploader
	logger   *slog.Logger
}

// NewCollector builds a collector. uploader may be nil when output
// uploads are disabled.
func NewCollector(cfg *config.Config, fetcher ImageFetcher, uploader Uploader, logger *slog.Logger) *Collector {
	return &Collector{
		cfg:      cfg,
		fetcher:  fetcher,
		uploader: uploader,
		logger:   logging.WithComponent(logger, "artifacts"),
	}
}

// Collect fetches every output image in the history entry, writes it
// under output_dir/job-<id>/, and returns the packaged artifacts in a
// stable order.
func (c *Collector) Collect(ctx context.Context, jobID int64, entry *comfy.HistoryEntry) ([]Artifact, error) {
	if entry == nil || len(entry.Outputs) == 0 {
		return nil, fmt.Errorf("job %d: prompt finished without outputs", jobID)
	}

	images := flattenOutputs(entry)
	if len(images) == 0 {
		return nil, fmt.Errorf("job %d: history contains no images", jobID)
	}

	jobDir := filepath.Join(c.cfg.Paths.OutputDir, fmt.Sprintf("job-%d", jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	artifacts := make([]Artifact, 0, len(images))
	for _, image := range images {
		data, err := c.fetcher.View(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", jobID, err)
		}

		localPath := filepath.Join(jobDir, filepath.Base(image.Filename))
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("write artifact %s: %w", image.Filename, err)
		}

		artifact, err := c.packageArtifact(ctx, jobID, image.Filename, localPath, data)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)

		c.logger.Debug("artifact collected",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String("filename", image.Filename),
			logging.Int("bytes", len(data)))
	}
	return artifacts, nil
}

func (c *Collector) packageArtifact(ctx context.Context, jobID int64, filename, localPath string, data []byte) (Artifact, error) {
	if c.uploader != nil && c.cfg.ObjectStore.UploadOutputs {
		key := fmt.Sprintf("job-%d/%s", jobID, filepath.Base(filename))
		url, err := c.uploader.Upload(ctx, key, bytes.NewReader(data), contentTypeFor(filename))
		if err != nil {
			return Artifact{}, fmt.Errorf("upload artifact %s: %w", filename, err)
		}
		return Artifact{Filename: filename, Type: "url", Data: url, LocalPath: localPath}, nil
	}
	return Artifact{
		Filename:  filename,
		Type:      "base64",
		Data:      base64.StdEncoding.EncodeToString(data),
		LocalPath: localPath,
	}, nil
}

// flattenOutputs orders images by node id then filename so responses are
// deterministic across runs.
func flattenOutputs(entry *comfy.HistoryEntry) []comfy.OutputImage {
	nodes := make([]string, 0, len(entry.Outputs))
	for node := range entry.Outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var images []comfy.OutputImage
	for _, node := range nodes {
		nodeImages := append([]comfy.OutputImage(nil), entry.Outputs[node].Images...)
		sort.Slice(nodeImages, func(i, j int) bool {
			return nodeImages[i].Filename < nodeImages[j].Filename
		})
		images = append(images, nodeImages...)
	}
	return images
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
