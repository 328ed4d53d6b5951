// Package supervisor launches and watches a managed ComfyUI process.
// When comfy.managed is enabled the daemon owns the server lifecycle:
// start it, wait for it to answer HTTP, restart it if it dies, and shut
// it down cleanly with the daemon.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"easel/internal/config"
	"easel/internal/logging"
)

// ReadyChecker reports whether the server answers requests. Satisfied by
// *comfy.Client.
type ReadyChecker interface {
	WaitUntilReady(ctx context.Context, timeout, interval time.Duration) error
}

// Supervisor runs ComfyUI as a child process and restarts it on exit.
type Supervisor struct {
	cfg    *config.Config
	ready  ReadyChecker
	logger *slog.Logger

	// startCommand is swappable for tests.
	startCommand func(ctx context.Context) (*exec.Cmd, error)

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// New builds a supervisor for the configured ComfyUI installation.
func New(cfg *config.Config, ready ReadyChecker, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		ready:  ready,
		logger: logging.WithComponent(logger, "supervisor"),
	}
	s.startCommand = s.defaultStartCommand
	return s
}

func (s *Supervisor) defaultStartCommand(ctx context.Context) (*exec.Cmd, error) {
	args := []string{
		"main.py",
		"--disable-auto-launch",
		"--disable-metadata",
		"--listen", s.cfg.Comfy.Host,
		"--port", fmt.Sprintf("%d", s.cfg.Comfy.Port),
	}
	args = append(args, s.cfg.Comfy.ExtraArgs...)

	cmd := exec.CommandContext(ctx, s.cfg.Comfy.Python, args...) //nolint:gosec
	cmd.Dir = s.cfg.Comfy.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	go s.forwardOutput(stdout, slog.LevelDebug)
	go s.forwardOutput(stderr, slog.LevelWarn)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start comfyui: %w", err)
	}
	return cmd, nil
}

func (s *Supervisor) forwardOutput(r io.Reader, level slog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		s.logger.Log(context.Background(), level, scanner.Text(), logging.String("stream", "comfyui"))
	}
}

// Start launches the process and blocks until it answers HTTP or the
// startup timeout passes. The caller should then invoke Run to keep it
// alive.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return errors.New("comfyui already running")
	}
	cmd, err := s.startCommand(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cmd = cmd
	s.mu.Unlock()

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	s.logger.Info("comfyui started",
		logging.Int("pid", pid),
		logging.String("dir", s.cfg.Comfy.Dir),
		logging.Int("port", s.cfg.Comfy.Port))

	timeout := time.Duration(s.cfg.Comfy.StartupTimeout) * time.Second
	if err := s.ready.WaitUntilReady(ctx, timeout, time.Second); err != nil {
		s.terminate()
		s.mu.Lock()
		s.cmd = nil
		s.mu.Unlock()
		go func() { _ = cmd.Wait() }()
		return fmt.Errorf("comfyui did not become ready: %w", err)
	}
	s.logger.Info("comfyui ready")
	return nil
}

// Run waits on the child and restarts it when it exits unexpectedly.
// It returns when ctx is cancelled or Stop is called.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd == nil {
			return errors.New("supervisor not started")
		}

		err := cmd.Wait()

		s.mu.Lock()
		stopped := s.stopped
		s.cmd = nil
		s.mu.Unlock()

		if stopped || ctx.Err() != nil {
			return nil
		}

		s.logger.Error("comfyui exited unexpectedly", logging.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}

		if err := s.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("restart comfyui: %w", err)
		}
	}
}

// Stop terminates the managed process. Safe to call when not running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.terminate()
}

// Running reports whether a child process is currently alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

func (s *Supervisor) terminate() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}

	// Grace period before the hard kill. Whoever called Wait reaps the
	// process, so this only escalates if it lingers.
	process := cmd.Process
	time.AfterFunc(10*time.Second, func() {
		_ = process.Kill()
	})
}
