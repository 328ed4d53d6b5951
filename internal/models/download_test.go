package models

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"easel/internal/config"
	"easel/internal/logging"
	"easel/internal/testsupport"
)

func testDownloader(t *testing.T) (*Downloader, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ModelsDir = t.TempDir()
	cfg.Models.RetryAttempts = 3
	cfg.Models.MinFileSize = 16
	d := NewDownloader(&cfg, logging.NewNop())
	return d, &cfg
}

func modelBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestEnsureDownloadsMissingAsset(t *testing.T) {
	payload := modelBytes(64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	d, cfg := testDownloader(t)
	asset := Asset{Name: "model.safetensors", Kind: "checkpoints", Source: server.URL + "/model.safetensors"}
	if err := d.Ensure(context.Background(), asset); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cfg.ModelDir("checkpoints"), "model.safetensors"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded bytes differ from source")
	}
}

func TestEnsureSkipsValidAsset(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	d, cfg := testDownloader(t)
	testsupport.WriteFile(t, filepath.Join(cfg.ModelDir("vae"), "ae.safetensors"), 64)

	asset := Asset{Name: "ae.safetensors", Kind: "vae", Source: server.URL + "/ae.safetensors"}
	if err := d.Ensure(context.Background(), asset); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server was hit %d times for a valid file", hits.Load())
	}
}

func TestEnsureRedownloadsHTMLErrorPage(t *testing.T) {
	payload := modelBytes(64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	d, cfg := testDownloader(t)
	dir := cfg.ModelDir("checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	htmlPage := "<!DOCTYPE html><html><body>Access denied</body></html>" + strings.Repeat(" ", 64)
	if err := os.WriteFile(filepath.Join(dir, "m.safetensors"), []byte(htmlPage), 0o644); err != nil {
		t.Fatal(err)
	}

	asset := Asset{Name: "m.safetensors", Kind: "checkpoints", Source: server.URL + "/m"}
	if err := d.Ensure(context.Background(), asset); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "m.safetensors"))
	if !bytes.Equal(got, payload) {
		t.Fatal("corrupt file was not replaced")
	}
}

func TestEnsureResumesPartialDownload(t *testing.T) {
	payload := modelBytes(128)
	var sawRange atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		sawRange.Store(rangeHeader)
		if rangeHeader == "" {
			_, _ = w.Write(payload)
			return
		}
		var offset int64
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &offset); err != nil {
			t.Fatalf("bad range header %q", rangeHeader)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)-int(offset)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[offset:])
	}))
	defer server.Close()

	d, cfg := testDownloader(t)
	dir := cfg.ModelDir("checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Leftover partial file from an interrupted earlier run.
	if err := os.WriteFile(filepath.Join(dir, "big.safetensors.part"), payload[:50], 0o644); err != nil {
		t.Fatal(err)
	}

	asset := Asset{Name: "big.safetensors", Kind: "checkpoints", Source: server.URL + "/big", Size: int64(len(payload))}
	if err := d.Ensure(context.Background(), asset); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if got, _ := sawRange.Load().(string); got != "bytes=50-" {
		t.Fatalf("range header = %q, want bytes=50-", got)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "big.safetensors"))
	if !bytes.Equal(got, payload) {
		t.Fatal("resumed file differs from source")
	}
	if _, err := os.Stat(filepath.Join(dir, "big.safetensors.part")); !os.IsNotExist(err) {
		t.Fatal("partial file should be renamed away")
	}
}

func TestEnsureRetriesTransientFailures(t *testing.T) {
	payload := modelBytes(64)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	d, _ := testDownloader(t)
	asset := Asset{Name: "r.safetensors", Kind: "checkpoints", Source: server.URL + "/r"}
	if err := d.Ensure(context.Background(), asset); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", hits.Load())
	}
}

func TestEnsureGivesUpAfterRetryBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d, _ := testDownloader(t)
	d.cfg.Models.RetryAttempts = 2
	asset := Asset{Name: "f.safetensors", Kind: "checkpoints", Source: server.URL + "/f"}
	err := d.Ensure(context.Background(), asset)
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("error = %v", err)
	}
}

func TestEnsureVerifiesDigest(t *testing.T) {
	payload := modelBytes(64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	sum := sha256.Sum256(payload)
	d, _ := testDownloader(t)
	d.cfg.Models.RetryAttempts = 1

	good := Asset{Name: "g.safetensors", Kind: "checkpoints", Source: server.URL + "/g", SHA256: hex.EncodeToString(sum[:])}
	if err := d.Ensure(context.Background(), good); err != nil {
		t.Fatalf("Ensure with matching digest: %v", err)
	}

	bad := Asset{Name: "b.safetensors", Kind: "checkpoints", Source: server.URL + "/b", SHA256: strings.Repeat("ab", 32)}
	if err := d.Ensure(context.Background(), bad); err == nil || !strings.Contains(err.Error(), "sha256 mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestEnsureSendsHFToken(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write(modelBytes(64))
	}))
	defer server.Close()

	d, cfg := testDownloader(t)
	cfg.Models.HFToken = "hf_secret"

	// Non-HF host must not receive the token.
	asset := Asset{Name: "t.safetensors", Kind: "checkpoints", Source: server.URL + "/t"}
	if err := d.Ensure(context.Background(), asset); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got, _ := gotAuth.Load().(string); got != "" {
		t.Fatalf("token leaked to non-huggingface host: %q", got)
	}
}
