package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"easel/internal/api"
	"easel/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var title string
	var imageArgs []string

	cmd := &cobra.Command{
		Use:   "submit <workflow.json>",
		Short: "Queue a ComfyUI workflow for background processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflow, err := readWorkflowFile(args[0])
			if err != nil {
				return err
			}
			images, err := readInputImages(imageArgs)
			if err != nil {
				return err
			}
			if strings.TrimSpace(title) == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SubmitJob(ipc.SubmitJobRequest{
					Title:    title,
					Workflow: string(workflow),
					Images:   images,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s)\n", resp.JobID, resp.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Job title (defaults to the workflow filename)")
	cmd.Flags().StringSliceVarP(&imageArgs, "image", "i", nil, "Input image as name=path (repeatable)")
	return cmd
}

func readWorkflowFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var workflow map[string]json.RawMessage
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("workflow file %s is not a JSON object: %w", path, err)
	}
	if len(workflow) == 0 {
		return nil, fmt.Errorf("workflow file %s has no nodes", path)
	}
	return json.RawMessage(data), nil
}

func readInputImages(specs []string) ([]api.InputImage, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	images := make([]api.InputImage, 0, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid image spec %q (expected name=path)", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", path, err)
		}
		images = append(images, api.InputImage{
			Name:  name,
			Image: base64.StdEncoding.EncodeToString(data),
		})
	}
	return images, nil
}
