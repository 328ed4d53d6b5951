package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"easel/internal/config"
)

// verifyFile checks a downloaded asset: it must exist, clear the size
// floor, match the expected size and digest when the manifest declares
// them, and not be an HTML error page saved under a .safetensors name.
func verifyFile(path string, asset Asset, minSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() < minSize {
		return fmt.Errorf("%s: %d bytes is below the %d byte floor, likely a failed download", asset.Name, info.Size(), minSize)
	}
	if asset.Size > 0 && info.Size() != asset.Size {
		return fmt.Errorf("%s: size %d does not match expected %d", asset.Name, info.Size(), asset.Size)
	}

	html, err := looksLikeHTML(path)
	if err != nil {
		return err
	}
	if html {
		return fmt.Errorf("%s: file contains HTML, the source likely returned an error page (check hf_token)", asset.Name)
	}

	if asset.SHA256 != "" {
		if err := verifyDigest(path, asset.SHA256); err != nil {
			return fmt.Errorf("%s: %w", asset.Name, err)
		}
	}
	return nil
}

// Missing returns the kind/name keys of manifest assets whose local files
// are absent or fail the cheap integrity checks (size floor, exact size,
// HTML sniff). The sha256 digest is skipped here; it is hashed only on
// download and by an explicit verify.
func Missing(cfg *config.Config, manifest *Manifest) []string {
	if manifest == nil {
		return nil
	}
	var missing []string
	for _, asset := range manifest.Assets {
		probe := asset
		probe.SHA256 = ""
		path := filepath.Join(cfg.ModelDir(asset.Kind), asset.Name)
		if err := verifyFile(path, probe, cfg.Models.MinFileSize); err != nil {
			missing = append(missing, asset.Kind+"/"+asset.Name)
		}
	}
	return missing
}

// looksLikeHTML sniffs the head of a file for an HTML document. Auth
// failures and rate limits come back as 200-with-HTML from some mirrors.
func looksLikeHTML(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return false, err
	}
	head = bytes.TrimLeft(head[:n], " \t\r\n")

	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) ||
		bytes.HasPrefix(lower, []byte("<html")) ||
		bytes.HasPrefix(lower, []byte("<?xml")), nil
}

func verifyDigest(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("sha256 mismatch: got %s, want %s", actual, expected)
	}
	return nil
}
