// Package daemonrun wires together the easel daemon runtime: logging,
// queue store, ComfyUI client, workflow stages, IPC, and signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"easel/internal/artifacts"
	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/daemon"
	"easel/internal/handler"
	"easel/internal/ipc"
	"easel/internal/logging"
	"easel/internal/models"
	"easel/internal/notifications"
	"easel/internal/objectstore"
	"easel/internal/pipeline"
	"easel/internal/preflight"
	"easel/internal/queue"
	"easel/internal/supervisor"
	"easel/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the easel daemon runtime loop and blocks until SIGINT or
// SIGTERM arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("easel-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update easel.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "easel.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logPreflight(signalCtx, logger, cfg)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	comfyClient := comfy.FromConfig(cfg, logger)
	ensureModels(signalCtx, logger, cfg)

	var uploader artifacts.Uploader
	if cfg.ObjectStore.Enabled {
		up, upErr := objectstore.NewUploader(signalCtx, cfg.ObjectStore)
		if upErr != nil {
			logger.Warn("object store unavailable, artifact upload disabled",
				logging.Error(upErr),
				logging.String(logging.FieldEventType, "objectstore_init_failed"),
				logging.String(logging.FieldErrorHint, "check object_store credentials and endpoint"))
		} else {
			uploader = up
		}
	}
	collector := artifacts.NewCollector(cfg, comfyClient, uploader, logger)
	generationHandler := handler.New(cfg, comfyClient, collector, logger)

	notifier := notifications.NewService(cfg)
	workflowManager := workflow.NewManagerWithNotifier(cfg, store, logger, notifier)
	workflowManager.ConfigureStages(workflow.StageSet{
		Preparer:  pipeline.NewPreparer(cfg, generationHandler, comfyClient, logger),
		Generator: pipeline.NewGenerator(cfg, generationHandler, store, comfyClient, logger),
		Collector: pipeline.NewCollector(cfg, generationHandler, logger),
	})

	d, err := daemon.New(cfg, store, logger, workflowManager, generationHandler)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if cfg.Comfy.Managed {
		d.AttachSupervisor(supervisor.New(cfg, comfyClient, logger))
	}

	socketPath := filepath.Join(cfg.Paths.DataDir, "easel.sock")
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"))
	}

	<-signalCtx.Done()
	logger.Info("easel daemon shutting down")
	return nil
}

// ensureModels resolves the configured manifest and downloads any missing
// assets. Failures are not fatal: the daemon stays controllable over IPC
// and generation reports the missing models when a job runs.
func ensureModels(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	manifest, err := models.Resolve(cfg)
	if err != nil {
		logger.Warn("model manifest invalid",
			logging.Error(err),
			logging.String(logging.FieldEventType, "manifest_invalid"),
			logging.String(logging.FieldErrorHint, "check models.manifest_path and models.presets"))
		return
	}
	if len(manifest.Assets) == 0 {
		return
	}
	downloader := models.NewDownloader(cfg, logger)
	if err := downloader.EnsureAll(ctx, manifest); err != nil {
		logger.Warn("model download incomplete",
			logging.Error(err),
			logging.String(logging.FieldEventType, "model_download_failed"),
			logging.String(logging.FieldErrorHint, "rerun easel models download once the network recovers"))
	}
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"))
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "easel.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
