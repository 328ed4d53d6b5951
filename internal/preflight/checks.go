package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/models"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minGB
// gigabytes available. Model weights run to tens of gigabytes, so a nearly
// full disk fails downloads midway.
func CheckFreeSpace(name, path string, minGB int) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeBytes := stat.Bavail * uint64(stat.Bsize)
	freeGB := float64(freeBytes) / (1 << 30)
	if freeGB < float64(minGB) {
		return Result{Name: name, Detail: fmt.Sprintf("%.1f GB free, need %d GB", freeGB, minGB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%.1f GB free", freeGB)}
}

// CheckComfy verifies that a ComfyUI server is reachable at baseURL. A
// reachable server's detail carries its reported version.
func CheckComfy(ctx context.Context, baseURL string) Result {
	const name = "ComfyUI"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/system_stats", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%v)", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%d)", resp.StatusCode)}
	}

	detail := "Reachable"
	var stats comfy.SystemStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err == nil && stats.System.ComfyUIVersion != "" {
		detail = "ComfyUI " + stats.System.ComfyUIVersion
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckManifest verifies the configured presets and manifest file parse and
// merge into a valid asset list.
func CheckManifest(cfg *config.Config) Result {
	const name = "Model manifest"

	manifest, err := models.Resolve(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if len(manifest.Assets) == 0 {
		return Result{Name: name, Passed: true, Detail: "no assets configured"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d assets", len(manifest.Assets))}
}

// CheckObjectStoreConfig verifies the object store section is complete.
// Connectivity is not probed; a bad endpoint surfaces on first use.
func CheckObjectStoreConfig(cfg *config.Config) Result {
	const name = "Object store"

	store := cfg.ObjectStore
	var missing []string
	if strings.TrimSpace(store.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(store.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if strings.TrimSpace(store.AccessKeyID) == "" {
		missing = append(missing, "access_key_id")
	}
	if strings.TrimSpace(store.SecretAccessKey) == "" {
		missing = append(missing, "secret_access_key")
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "missing " + strings.Join(missing, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: store.Bucket}
}

// summarizeNetworkError produces a human-readable summary for connectivity failures.
func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (server unreachable)"
	}
	return err.Error()
}
