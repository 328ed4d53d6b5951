package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"

	"easel/internal/config"
	"easel/internal/logging"
)

// Downloader ensures manifest assets exist on disk, downloading the ones
// that are missing or fail verification.
type Downloader struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpClient *http.Client
	// showProgress draws a terminal progress bar during downloads.
	showProgress bool

	s3Once   sync.Once
	s3Client *s3.Client
	s3Err    error
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithProgressBar enables the terminal progress bar.
func WithProgressBar(enabled bool) DownloaderOption {
	return func(d *Downloader) { d.showProgress = enabled }
}

// WithHTTPClient overrides the HTTP client used for https sources.
func WithHTTPClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// NewDownloader builds a downloader for the configured model layout.
func NewDownloader(cfg *config.Config, logger *slog.Logger, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		cfg:        cfg,
		logger:     logging.WithComponent(logger, "models"),
		httpClient: &http.Client{}, // no timeout, downloads run for hours
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EnsureAll ensures every asset in the manifest, continuing past
// individual failures and returning them joined.
func (d *Downloader) EnsureAll(ctx context.Context, manifest *Manifest) error {
	var errs []error
	for _, asset := range manifest.Assets {
		if err := d.Ensure(ctx, asset); err != nil {
			if ctx.Err() != nil {
				errs = append(errs, err)
				break
			}
			d.logger.Error("asset download failed",
				logging.String(logging.FieldAsset, asset.Name),
				logging.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ensure makes a single asset present and valid, downloading it when the
// existing file is missing or fails verification.
func (d *Downloader) Ensure(ctx context.Context, asset Asset) error {
	dest := filepath.Join(d.cfg.ModelDir(asset.Kind), asset.Name)

	if err := verifyFile(dest, asset, d.cfg.Models.MinFileSize); err == nil {
		d.logger.Debug("asset already present",
			logging.String(logging.FieldAsset, asset.Name),
			logging.String("path", dest))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("existing asset failed verification, re-downloading",
			logging.String(logging.FieldAsset, asset.Name),
			logging.Error(err))
		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("remove corrupt asset: %w", rmErr)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	source, err := d.resolveFetcher(ctx, asset.Source)
	if err != nil {
		return err
	}

	attempts := d.cfg.Models.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt)
			d.logger.Warn("retrying download",
				logging.String(logging.FieldAsset, asset.Name),
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", attempts),
				logging.Duration("delay", delay),
				logging.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := d.downloadOnce(ctx, source, asset, dest); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		d.logger.Info("asset downloaded",
			logging.String(logging.FieldAsset, asset.Name),
			logging.String("path", dest))
		return nil
	}
	return fmt.Errorf("download %s after %d attempts: %w", asset.Name, attempts, lastErr)
}

// backoffDelay grows exponentially from the second attempt: 2s, 4s, 8s,
// capped at a minute.
func backoffDelay(attempt int) time.Duration {
	delay := time.Second << uint(attempt-1)
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// downloadOnce performs a single download attempt onto a .part file,
// resuming from a previous attempt's bytes when the source allows it, and
// renames into place only after verification passes.
func (d *Downloader) downloadOnce(ctx context.Context, source fetcher, asset Asset, dest string) error {
	partPath := dest + ".part"

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	body, total, resumed, err := source.Fetch(ctx, offset)
	if err != nil {
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 && resumed {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}
	part, err := os.OpenFile(partPath, flags, 0o644) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}

	var dst io.Writer = part
	if d.showProgress {
		bar := progressbar.DefaultBytes(total, asset.Name)
		_ = bar.Set64(offset)
		dst = io.MultiWriter(part, bar)
	}

	if _, err := io.Copy(dst, body); err != nil {
		part.Close()
		return fmt.Errorf("download %s: %w", asset.Name, err)
	}
	if err := part.Close(); err != nil {
		return fmt.Errorf("close partial file: %w", err)
	}

	if err := verifyFile(partPath, asset, d.cfg.Models.MinFileSize); err != nil {
		// A verification failure means the bytes are wrong, not short.
		// Resuming onto them would bake the corruption in.
		_ = os.Remove(partPath)
		return err
	}

	if err := os.Rename(partPath, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", asset.Name, err)
	}
	return nil
}
