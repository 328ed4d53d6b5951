// Package config loads, normalizes, and validates easel's TOML
// configuration. Credentials fall back to environment variables so the
// daemon can run unmodified in container deployments.
package config
