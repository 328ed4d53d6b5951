package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateComfy(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateObjectStore(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateComfy() error {
	if c.Comfy.Port <= 0 || c.Comfy.Port > 65535 {
		return fmt.Errorf("comfy.port must be a valid TCP port, got %d", c.Comfy.Port)
	}
	if c.Comfy.Managed && strings.TrimSpace(c.Comfy.Dir) == "" {
		return errors.New("comfy.dir must be set when comfy.managed is true")
	}
	return nil
}

func (c *Config) validateModels() error {
	known := map[string]struct{}{"flux-dev": {}, "flux-schnell": {}, "sdxl": {}}
	for _, preset := range c.Models.Presets {
		if _, ok := known[preset]; !ok {
			return fmt.Errorf("models.presets: unknown preset %q (known: flux-dev, flux-schnell, sdxl)", preset)
		}
	}
	return nil
}

func (c *Config) validateObjectStore() error {
	if !c.ObjectStore.Enabled {
		return nil
	}
	if strings.TrimSpace(c.ObjectStore.Endpoint) == "" {
		return errors.New("object_store.endpoint must be set when object_store.enabled is true")
	}
	if strings.TrimSpace(c.ObjectStore.Bucket) == "" {
		return errors.New("object_store.bucket must be set when object_store.enabled is true")
	}
	if c.ObjectStore.AccessKeyID == "" || c.ObjectStore.SecretAccessKey == "" {
		return errors.New("object_store credentials missing: set access_key_id/secret_access_key or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
		"workflow.generation_timeout":   c.Workflow.GenerationTimeout,
		"comfy.startup_timeout":         c.Comfy.StartupTimeout,
		"comfy.request_timeout":         c.Comfy.RequestTimeout,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}
