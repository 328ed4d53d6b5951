package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"easel/internal/api"
)

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), strconv.Itoa(stats[key])})
	}
	return rows
}

func buildQueueListRows(jobs []api.Job) [][]string {
	if len(jobs) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range api.SortJobsNewestFirst(jobs) {
		title := strings.TrimSpace(job.Title)
		if title == "" {
			title = "Untitled"
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			title,
			formatStatusLabel(job.Status),
			formatProgress(job.Progress),
			formatDisplayTime(job.CreatedAt),
		})
	}
	return rows
}

// formatStatusLabel turns a snake_case status token into a display label,
// e.g. "clear_failed" becomes "Clear Failed".
func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatProgress(progress api.JobProgress) string {
	stage := strings.TrimSpace(progress.Stage)
	if stage == "" {
		return "-"
	}
	if progress.Percent > 0 {
		return fmt.Sprintf("%s %.0f%%", stage, progress.Percent)
	}
	return stage
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	t := api.ParseQueueTime(value)
	if t.IsZero() {
		return value
	}
	return t.UTC().Format("2006-01-02 15:04")
}
