package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeComfy(); err != nil {
		return err
	}
	if err := c.normalizeModels(); err != nil {
		return err
	}
	c.normalizeObjectStore()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.ModelsDir, err = expandPath(c.Paths.ModelsDir); err != nil {
		return fmt.Errorf("paths.models_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("EASEL_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeComfy() error {
	c.Comfy.Host = strings.TrimSpace(c.Comfy.Host)
	if c.Comfy.Host == "" {
		c.Comfy.Host = defaultComfyHost
	}
	// The original deployment addressed the server as HOST:PORT in one
	// variable; accept the same form here.
	if value, ok := os.LookupEnv("COMFY_HOST"); ok {
		trimmed := strings.TrimSpace(value)
		if host, port, found := strings.Cut(trimmed, ":"); found {
			c.Comfy.Host = host
			fmt.Sscanf(port, "%d", &c.Comfy.Port)
		} else if trimmed != "" {
			c.Comfy.Host = trimmed
		}
	}
	if c.Comfy.Port <= 0 {
		c.Comfy.Port = defaultComfyPort
	}
	var err error
	if c.Comfy.Dir, err = expandPath(c.Comfy.Dir); err != nil {
		return fmt.Errorf("comfy.dir: %w", err)
	}
	c.Comfy.Python = strings.TrimSpace(c.Comfy.Python)
	if c.Comfy.Python == "" {
		c.Comfy.Python = defaultComfyPython
	}
	if c.Comfy.StartupTimeout <= 0 {
		c.Comfy.StartupTimeout = defaultStartupTimeout
	}
	if c.Comfy.RequestTimeout <= 0 {
		c.Comfy.RequestTimeout = defaultRequestTimeout
	}
	if c.Comfy.ReconnectAttempts <= 0 {
		c.Comfy.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.Comfy.ReconnectDelay <= 0 {
		c.Comfy.ReconnectDelay = defaultReconnectDelay
	}
	return nil
}

func (c *Config) normalizeModels() error {
	c.Models.HFToken = strings.TrimSpace(c.Models.HFToken)
	if c.Models.HFToken == "" {
		for _, key := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Models.HFToken = strings.TrimSpace(value)
				break
			}
		}
	}
	if c.Models.ManifestPath != "" {
		var err error
		if c.Models.ManifestPath, err = expandPath(c.Models.ManifestPath); err != nil {
			return fmt.Errorf("models.manifest_path: %w", err)
		}
	}
	if c.Models.RetryAttempts <= 0 {
		c.Models.RetryAttempts = defaultRetryAttempts
	}
	if c.Models.MinFileSize <= 0 {
		c.Models.MinFileSize = defaultMinFileSize
	}
	if c.Models.MinFreeSpaceGB < 0 {
		c.Models.MinFreeSpaceGB = 0
	}
	for i, preset := range c.Models.Presets {
		c.Models.Presets[i] = strings.ToLower(strings.TrimSpace(preset))
	}
	return nil
}

func (c *Config) normalizeObjectStore() {
	c.ObjectStore.Endpoint = strings.TrimSpace(c.ObjectStore.Endpoint)
	if c.ObjectStore.Endpoint == "" {
		if value, ok := os.LookupEnv("BUCKET_ENDPOINT_URL"); ok {
			c.ObjectStore.Endpoint = strings.TrimSpace(value)
		}
	}
	if c.ObjectStore.AccessKeyID == "" {
		if value, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok {
			c.ObjectStore.AccessKeyID = strings.TrimSpace(value)
		}
	}
	if c.ObjectStore.SecretAccessKey == "" {
		if value, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			c.ObjectStore.SecretAccessKey = strings.TrimSpace(value)
		}
	}
	c.ObjectStore.Region = strings.TrimSpace(c.ObjectStore.Region)
	if c.ObjectStore.Region == "" {
		c.ObjectStore.Region = defaultObjectStoreRegion
	}
	c.ObjectStore.Prefix = strings.Trim(strings.TrimSpace(c.ObjectStore.Prefix), "/")
	if c.ObjectStore.Endpoint != "" && c.ObjectStore.Bucket != "" {
		c.ObjectStore.Enabled = true
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
