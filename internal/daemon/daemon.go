package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"easel/internal/api"
	"easel/internal/config"
	"easel/internal/handler"
	"easel/internal/logging"
	"easel/internal/models"
	"easel/internal/notifications"
	"easel/internal/queue"
	"easel/internal/supervisor"
	"easel/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	handler  *handler.Handler
	comfy    *supervisor.Supervisor

	lockPath string
	logPath  string
	lock     *flock.Flock

	running atomic.Bool

	// mu guards the start/stop lifecycle state below.
	mu     sync.Mutex
	apiSrv *apiServer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// comfyMu guards comfyErr; the supervision goroutine writes it while
	// Stop holds mu waiting on done.
	comfyMu  sync.Mutex
	comfyErr error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	// ComfyError is set when supervision of the managed ComfyUI process
	// ended with a failed restart.
	ComfyError string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, h *handler.Handler) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "easeld.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    store,
		workflow: wf,
		handler:  h,
		lockPath: lockPath,
		logPath:  filepath.Join(cfg.Paths.LogDir, "easel.log"),
		lock:     flock.New(lockPath),
	}, nil
}

// AttachSupervisor registers a managed ComfyUI supervisor that Start will run.
func (d *Daemon) AttachSupervisor(sup *supervisor.Supervisor) {
	d.comfy = sup
}

// Start acquires the daemon lock, launches the supervised ComfyUI process
// when one is attached, and starts the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another easel daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.setComfyError(nil)

	if d.comfy != nil {
		if err := d.comfy.Start(d.ctx); err != nil {
			d.teardownStart()
			return fmt.Errorf("start comfyui: %w", err)
		}
		runCtx, done := d.ctx, d.done
		go func() {
			defer close(done)
			if err := d.comfy.Run(runCtx); err != nil {
				d.logger.Error("comfyui supervision ended",
					logging.Error(err),
					logging.String(logging.FieldEventType, "comfy_supervision_failed"),
					logging.String(logging.FieldErrorHint, "restart the daemon or check the comfyui installation"))
				d.setComfyError(err)
			}
		}()
	} else {
		close(d.done)
	}

	if err := d.workflow.Start(d.ctx); err != nil {
		if d.comfy != nil {
			d.comfy.Stop()
			<-d.done
		}
		d.teardownStart()
		return fmt.Errorf("start workflow: %w", err)
	}

	apiSrv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.logger.Warn("api server unavailable", logging.Error(err))
	} else if apiSrv != nil {
		if err := apiSrv.start(d.ctx); err != nil {
			// A bind conflict should not take down queue processing; the
			// daemon stays controllable over IPC.
			d.logger.Warn("api server failed to start", logging.Error(err))
		} else {
			d.apiSrv = apiSrv
		}
	}

	d.running.Store(true)
	d.logger.Info("easel daemon started", logging.String("lock", d.lockPath))
	return nil
}

// teardownStart reverts a partially completed Start. Callers hold d.mu.
func (d *Daemon) teardownStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
	d.done = nil
}

// Stop stops background processing and releases the daemon lock. Safe to
// call concurrently: the lifecycle mutex serializes it against Start and
// other Stop calls.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.apiSrv != nil {
		d.apiSrv.stop()
		d.apiSrv = nil
	}
	d.workflow.Stop()
	if d.comfy != nil {
		d.comfy.Stop()
	}
	if d.done != nil {
		<-d.done
		d.done = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("easel daemon stopped")
}

func (d *Daemon) setComfyError(err error) {
	d.comfyMu.Lock()
	d.comfyErr = err
	d.comfyMu.Unlock()
}

func (d *Daemon) comfyError() error {
	d.comfyMu.Lock()
	defer d.comfyMu.Unlock()
	return d.comfyErr
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// SubmitJob validates and enqueues a workflow for asynchronous processing.
func (d *Daemon) SubmitJob(ctx context.Context, title string, req *handler.GenerateRequest) (*queue.Job, error) {
	if d.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	if err := handler.ValidateRequest(req); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "untitled"
	}
	imagesJSON := ""
	if len(req.Images) > 0 {
		encoded, err := json.Marshal(req.Images)
		if err != nil {
			return nil, fmt.Errorf("encode input images: %w", err)
		}
		imagesJSON = string(encoded)
	}
	job, err := d.store.NewJob(ctx, title, string(req.Workflow), imagesJSON, queue.SourceAPI)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	d.logger.Info("job queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("title", title))
	return job, nil
}

// Generate runs a workflow synchronously, bypassing the queue. The request
// ties up an HTTP worker for the duration of the generation, so callers
// should prefer SubmitJob for anything long-running.
func (d *Daemon) Generate(ctx context.Context, req *handler.GenerateRequest) (*handler.Result, error) {
	if d.handler == nil {
		return nil, errors.New("generation handler unavailable")
	}
	return d.handler.Run(ctx, 0, req, nil)
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	if d.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	if len(statuses) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, statuses...)
}

// GetQueueJob fetches a single job by id.
func (d *Daemon) GetQueueJob(ctx context.Context, id int64) (*queue.Job, error) {
	if d.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	return d.store.GetByID(ctx, id)
}

// ClearQueue removes all jobs.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return d.store.Clear(ctx)
}

// ClearCompleted removes only completed jobs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed jobs.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return d.store.ClearFailed(ctx)
}

// ResetStuck transitions in-flight jobs back to pending for retry.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return d.store.ResetStuckProcessing(ctx)
}

// RetryFailed resets failed jobs (optionally a subset) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	if d.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return d.store.RetryFailed(ctx, ids...)
}

// RemoveJob deletes a single job unless it is currently processing.
func (d *Daemon) RemoveJob(ctx context.Context, id int64) (bool, error) {
	if d.store == nil {
		return false, errors.New("queue store unavailable")
	}
	return d.store.Remove(ctx, id)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	if d.store == nil {
		return queue.HealthSummary{}, errors.New("queue store unavailable")
	}
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	if d.store == nil {
		return queue.DatabaseHealth{}, errors.New("queue store unavailable")
	}
	return d.store.CheckHealth(ctx)
}

// ModelsStatus resolves the model manifest and reports per-asset local state.
func (d *Daemon) ModelsStatus(ctx context.Context) ([]api.ModelAsset, error) {
	manifest, err := models.Resolve(d.cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve model manifest: %w", err)
	}
	assets := make([]api.ModelAsset, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		dest := filepath.Join(d.cfg.ModelDir(asset.Kind), asset.Name)
		entry := api.ModelAsset{
			Kind: asset.Kind,
			Name: asset.Name,
			Size: asset.Size,
			Path: dest,
		}
		if info, statErr := os.Stat(dest); statErr == nil {
			entry.Present = true
			entry.Size = info.Size()
		}
		assets = append(assets, entry)
	}
	return assets, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the stable path of the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Store exposes the queue store for API service construction.
func (d *Daemon) Store() *queue.Store {
	return d.store
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary := d.workflow.Status(ctx)
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     summary,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if err := d.comfyError(); err != nil {
		status.ComfyError = err.Error()
	}
	return status
}
