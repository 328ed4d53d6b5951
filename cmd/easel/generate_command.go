package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"easel/internal/api"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var imageArgs []string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "generate <workflow.json>",
		Short: "Run a workflow synchronously and save the generated images",
		Long: "Generate submits the workflow to the daemon's HTTP API and waits for " +
			"the images. The queue is bypassed, so long generations hold the " +
			"connection open; prefer `easel submit` for batch work.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			workflow, err := readWorkflowFile(args[0])
			if err != nil {
				return err
			}
			images, err := readInputImages(imageArgs)
			if err != nil {
				return err
			}

			body, err := json.Marshal(api.SubmitJobRequest{Workflow: workflow, Images: images})
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}

			url := fmt.Sprintf("http://%s/api/generate", cfg.Paths.APIBind)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if token := strings.TrimSpace(cfg.Paths.APIToken); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("call daemon API at %s: %w (is the daemon running?)", url, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var apiErr api.ErrorResponse
				if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
					return fmt.Errorf("generate failed: %s", apiErr.Error)
				}
				return fmt.Errorf("generate failed with status %s", resp.Status)
			}

			var result api.GenerateResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Prompt %s finished with %d images\n", result.PromptID, len(result.Images))
			return saveOutputImages(out, outputDir, result.Images)
		},
	}

	cmd.Flags().StringSliceVarP(&imageArgs, "image", "i", nil, "Input image as name=path (repeatable)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to write generated images into")
	return cmd
}

func saveOutputImages(out io.Writer, dir string, images []api.OutputImage) error {
	if len(images) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, image := range images {
		if image.Type == "url" {
			fmt.Fprintf(out, "  %s -> %s\n", image.Filename, image.Data)
			continue
		}
		data, err := base64.StdEncoding.DecodeString(image.Data)
		if err != nil {
			return fmt.Errorf("decode image %s: %w", image.Filename, err)
		}
		target := filepath.Join(dir, image.Filename)
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write image %s: %w", target, err)
		}
		fmt.Fprintf(out, "  %s\n", target)
	}
	return nil
}
