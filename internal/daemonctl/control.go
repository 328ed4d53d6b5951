// Package daemonctl orchestrates the daemon process from the CLI: launching
// it detached, waiting for IPC availability, and stopping or force-killing it.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"easel/internal/api"
	"easel/internal/config"
	"easel/internal/ipc"
	"easel/internal/preflight"
	"easel/internal/queue"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached easel daemon process via the hidden `easel daemon`
// subcommand and releases the handle so the CLI can exit.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// poll retries fn every pollInterval until it succeeds or the timeout lapses,
// returning the last error seen.
func poll(timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return lastErr
		}
		time.Sleep(pollInterval)
	}
}

// WaitForClient blocks until the IPC socket accepts connections, returning a
// connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := poll(timeout, func() error {
		c, dialErr := ipc.Dial(socketPath)
		if dialErr != nil {
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("daemon failed to start: %w", err)
	}
	return client, nil
}

// EnsureStarted connects to a running daemon or launches one, then asks it to
// begin processing.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	launched := false
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		if client, err = WaitForClient(socketPath, waitTimeout); err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if status, statusErr := client.Status(); statusErr == nil && status != nil && status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	if resp == nil {
		return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
	}

	message := strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
	case strings.EqualFold(message, "daemon already running"):
		state := StartStateAlreadyRunning
		if launched {
			state = StartStateStarted
		}
		return StartResult{State: state, Launched: launched, Message: message}, nil
	case message != "":
		return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
	}
	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

// WaitForShutdown blocks until the daemon socket disappears or its status
// reports not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	err := poll(timeout, func() error {
		client, dialErr := ipc.Dial(socketPath)
		if dialErr != nil {
			if isDaemonUnavailable(dialErr) {
				return nil
			}
			return dialErr
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr != nil {
			return statusErr
		}
		if status.Running {
			return errors.New("daemon still running")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// ProcessInfo reports whether daemon IPC is reachable and the daemon PID when
// available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	if status == nil {
		return true, 0, nil
	}
	return true, status.PID, nil
}

// DeriveDataDir determines the daemon data directory from status and config
// hints, preferring paths reported by the daemon itself.
func DeriveDataDir(lockPath, queueDBPath string, cfg *config.Config) string {
	switch {
	case lockPath != "":
		return filepath.Dir(lockPath)
	case queueDBPath != "":
		return filepath.Dir(queueDBPath)
	case cfg != nil && strings.TrimSpace(cfg.Paths.DataDir) != "":
		return cfg.Paths.DataDir
	}
	return ""
}

func readPIDFile(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and removes its pid
// and lock files. The pid file wins over fallbackPID when both exist.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}

	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate requests a graceful stop, then force-kills the process if
// it is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}

	var lockPath, queueDBPath string
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil && status != nil {
		lockPath = status.LockPath
		queueDBPath = status.QueueDBPath
		pid = status.PID
	}

	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if resp != nil {
		result.StopAcknowledged = resp.Stopped
	}

	_ = WaitForShutdown(socketPath, gracePeriod)
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil || !alive {
		return result, nil
	}

	if livePID == 0 {
		livePID = pid
	}
	dataDir := DeriveDataDir(lockPath, queueDBPath, cfg)
	if dataDir == "" {
		return result, errors.New("unable to determine daemon data directory")
	}
	killedPID, killErr := ForceKillProcess(
		filepath.Join(dataDir, "easel.pid"),
		filepath.Join(dataDir, "easeld.lock"),
		livePID,
	)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started again.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusSnapshot is the combined daemon status shown by the status command.
type StatusSnapshot struct {
	ipc.StatusResponse
	SystemChecks []api.StatusLine
}

// BuildStatusSnapshot collects daemon status, reading queue stats straight
// from the database when the daemon is unreachable.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snapshot.StatusResponse = *resp
		}
		_ = client.Close()
	}

	if !snapshot.Running {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if store, openErr := queue.Open(cfg); openErr == nil {
			stats, statsErr := store.Stats(queryCtx)
			_ = store.Close()
			if statsErr == nil {
				queueStats := make(map[string]int, len(stats))
				for status, count := range stats {
					queueStats[string(status)] = count
				}
				snapshot.QueueStats = queueStats
			}
		}
	}

	snapshot.SystemChecks = BuildSystemChecks(cfg, snapshot.Running)
	return snapshot, nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func directorySeverity(passed bool) string {
	if passed {
		return "ok"
	}
	return "error"
}

// BuildSystemChecks resolves the status lines combining runtime state and
// configuration checks.
func BuildSystemChecks(cfg *config.Config, daemonRunning bool) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 6)

	if daemonRunning {
		lines = append(lines, api.StatusLine{Label: "Easel", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, api.StatusLine{Label: "Easel", Severity: "warn", Detail: "Not running (run `easel start`)"})
	}

	comfy := preflight.CheckComfyFromConfig(cfg)
	comfySeverity := "warn"
	if comfy.Passed {
		comfySeverity = "ok"
	}
	lines = append(lines, api.StatusLine{Label: "ComfyUI", Severity: comfySeverity, Detail: comfy.Detail})

	models := preflight.CheckDirectoryAccess("Models", cfg.Paths.ModelsDir)
	lines = append(lines, api.StatusLine{Label: "Models", Severity: directorySeverity(models.Passed), Detail: models.Detail})

	output := preflight.CheckDirectoryAccess("Output", cfg.Paths.OutputDir)
	lines = append(lines, api.StatusLine{Label: "Output", Severity: directorySeverity(output.Passed), Detail: output.Detail})

	notify := preflight.CheckNotificationsFromConfig(cfg)
	switch {
	case notify.Passed:
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "ok", Detail: notify.Detail})
	case strings.EqualFold(strings.TrimSpace(notify.Detail), "disabled"):
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "info", Detail: notify.Detail})
	default:
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "warn", Detail: notify.Detail})
	}

	if cfg.ObjectStore.Enabled {
		objectStore := preflight.CheckObjectStoreConfig(cfg)
		severity := "warn"
		if objectStore.Passed {
			severity = "ok"
		}
		lines = append(lines, api.StatusLine{Label: "Object Store", Severity: severity, Detail: objectStore.Detail})
	}

	return lines
}
