package preflight

import (
	"context"
	"strings"

	"easel/internal/config"
)

// CheckComfyFromConfig evaluates ComfyUI status from config and connectivity.
// Unlike RunAll, this probes a managed server too: the status command runs
// while the daemon (and its supervised ComfyUI) is already up.
func CheckComfyFromConfig(cfg *config.Config) Result {
	const name = "ComfyUI"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Comfy.Host) == "" {
		return Result{Name: name, Detail: "Missing host"}
	}
	return CheckComfy(context.Background(), cfg.ComfyBaseURL())
}

// CheckNotificationsFromConfig reports whether ntfy notifications are configured.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Notifications.NtfyTopic}
}
