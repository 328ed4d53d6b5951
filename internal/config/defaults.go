package config

const (
	defaultDataDir           = "~/.local/share/easel"
	defaultModelsDir         = "/comfyui/models"
	defaultOutputDir         = "~/.local/share/easel/output"
	defaultLogDir            = "~/.local/share/easel/logs"
	defaultAPIBind           = "127.0.0.1:8191"
	defaultComfyHost         = "127.0.0.1"
	defaultComfyPort         = 8188
	defaultComfyDir          = "/comfyui"
	defaultComfyPython       = "python3"
	defaultStartupTimeout    = 120
	defaultRequestTimeout    = 30
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 3
	defaultRetryAttempts     = 3
	defaultMinFileSize       = int64(1 << 20) // 1 MiB
	defaultMinFreeSpaceGB    = 10
	defaultQueuePollInterval = 2
	defaultErrorRetry        = 10
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultGenerationTimeout = 600
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultObjectStoreRegion = "auto"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			ModelsDir: defaultModelsDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Comfy: Comfy{
			Host:              defaultComfyHost,
			Port:              defaultComfyPort,
			Managed:           false,
			Dir:               defaultComfyDir,
			Python:            defaultComfyPython,
			StartupTimeout:    defaultStartupTimeout,
			RequestTimeout:    defaultRequestTimeout,
			ReconnectAttempts: defaultReconnectAttempts,
			ReconnectDelay:    defaultReconnectDelay,
		},
		Models: Models{
			RetryAttempts:  defaultRetryAttempts,
			MinFileSize:    defaultMinFileSize,
			MinFreeSpaceGB: defaultMinFreeSpaceGB,
		},
		ObjectStore: ObjectStore{
			Region: defaultObjectStoreRegion,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobEvents:      true,
			QueueEvents:    true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetry,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			GenerationTimeout:  defaultGenerationTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
