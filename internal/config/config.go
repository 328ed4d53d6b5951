package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	ModelsDir string `toml:"models_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Comfy contains settings for reaching (and optionally supervising) the
// local ComfyUI server.
type Comfy struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Managed controls whether easeld launches and supervises the ComfyUI
	// process itself. When false, an externally managed server is assumed.
	Managed        bool     `toml:"managed"`
	Dir            string   `toml:"dir"`
	Python         string   `toml:"python"`
	ExtraArgs      []string `toml:"extra_args"`
	StartupTimeout int      `toml:"startup_timeout"`
	RequestTimeout int      `toml:"request_timeout"`
	// WebSocket reconnect behavior while monitoring a running prompt.
	ReconnectAttempts int `toml:"reconnect_attempts"`
	ReconnectDelay    int `toml:"reconnect_delay"`
}

// Models contains configuration for model asset resolution and download.
type Models struct {
	ManifestPath  string   `toml:"manifest_path"`
	Presets       []string `toml:"presets"`
	RetryAttempts int      `toml:"retry_attempts"`
	// MinFileSize is the floor (in bytes) below which a downloaded file is
	// treated as corrupt. HTML error pages from auth failures are far
	// smaller than any real model weights.
	MinFileSize    int64  `toml:"min_file_size"`
	MinFreeSpaceGB int    `toml:"min_free_space_gb"`
	HFToken        string `toml:"hf_token"`
}

// ObjectStore contains settings for an S3-compatible bucket (e.g. R2)
// used as a model mirror and optional artifact destination.
type ObjectStore struct {
	Enabled         bool   `toml:"enabled"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Prefix          string `toml:"prefix"`
	UploadOutputs   bool   `toml:"upload_outputs"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobEvents      bool   `toml:"job_events"`
	QueueEvents    bool   `toml:"queue_events"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	GenerationTimeout  int `toml:"generation_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for easel.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, API token
//   - Comfy: ComfyUI server address and supervision settings
//   - Models: model manifest, presets, download retry policy
//   - ObjectStore: S3-compatible bucket for model mirror / artifact upload
//   - Notifications: ntfy push notification settings
//   - Workflow: daemon polling intervals and timeouts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Comfy         Comfy         `toml:"comfy"`
	Models        Models        `toml:"models"`
	ObjectStore   ObjectStore   `toml:"object_store"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/easel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and credential fields resolved from
// the environment when unset.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("easel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.ModelsDir) != "" {
		// Best-effort: the models volume may be mounted later.
		_ = os.MkdirAll(c.Paths.ModelsDir, 0o755)
	}
	return nil
}

// ComfyBaseURL returns the HTTP base URL of the ComfyUI server.
func (c *Config) ComfyBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Comfy.Host, c.Comfy.Port)
}

// ComfyWebsocketURL returns the websocket endpoint for a given client id.
func (c *Config) ComfyWebsocketURL(clientID string) string {
	return fmt.Sprintf("ws://%s:%d/ws?clientId=%s", c.Comfy.Host, c.Comfy.Port, clientID)
}

// ModelDir returns the directory for a model kind (checkpoints, loras, vae, ...).
func (c *Config) ModelDir(kind string) string {
	return filepath.Join(c.Paths.ModelsDir, kind)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
