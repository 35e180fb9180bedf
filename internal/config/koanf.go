// https://github.com/relaysync/core

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/relaysync/config.yaml",
	"/etc/relaysync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			PlaybackProgress:        true,
			WatchedStatus:           true,
			Favorites:               true,
			Ratings:                 true,
			Playlists:               false,
			ProgressDebounceSeconds: 30,
			WorkerIntervalSeconds:   5,
			MaxRetries:              5,
			LeaseBatchSize:          32,
		},
		Database: DatabaseConfig{
			Path:    "/data/relaysync.duckdb",
			WALPath: "/data/relaysync-wal",
		},
		Server: ServerConfig{
			Port:    8420,
			Host:    "0.0.0.0",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Auth: AuthConfig{
			SessionTimeout:              24 * time.Hour,
			WebhookRateLimitPerMinute:   600,
			DashboardRateLimitPerMinute: 120,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if present)
//  3. Environment Variables: override any setting
//
// The `servers` and `path_sync_policy` arrays are only practical to express
// via the YAML config file; single-node convenience environment variables
// are provided for the first server only.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := applySingleNodeEnv(k); err != nil {
		return nil, fmt.Errorf("failed to apply node environment overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applySingleNodeEnv lets a deployment with exactly one node configured via
// YAML add (or override) its connection details from NODE_* environment
// variables, without requiring the full servers array to be re-specified.
func applySingleNodeEnv(k *koanf.Koanf) error {
	name := os.Getenv("NODE_NAME")
	url := os.Getenv("NODE_URL")
	if name == "" && url == "" {
		return nil
	}

	if !k.Exists("servers") {
		node := map[string]interface{}{
			"name":         name,
			"url":          url,
			"api_key":      os.Getenv("NODE_API_KEY"),
			"passwordless": getBoolEnv("NODE_PASSWORDLESS", false),
		}
		return k.Set("servers", []map[string]interface{}{node})
	}

	return nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc transforms environment variable names to koanf config
// paths for the settings that have a natural scalar env var equivalent.
// Array fields (servers, path_sync_policy) are not mapped here; use the
// YAML config file or applySingleNodeEnv for the single-node case.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"sync_playback_progress":          "sync.playback_progress",
		"sync_watched_status":             "sync.watched_status",
		"sync_favorites":                  "sync.favorites",
		"sync_ratings":                    "sync.ratings",
		"sync_playlists":                  "sync.playlists",
		"sync_progress_debounce_seconds":  "sync.progress_debounce_seconds",
		"sync_worker_interval_seconds":    "sync.worker_interval_seconds",
		"sync_max_retries":                "sync.max_retries",
		"sync_lease_batch_size":           "sync.lease_batch_size",

		"database_path":     "database.path",
		"database_wal_path": "database.wal_path",

		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"auth_jwt_secret":                     "auth.jwt_secret",
		"auth_username":                       "auth.username",
		"auth_password":                       "auth.password",
		"auth_session_timeout":                "auth.session_timeout",
		"auth_webhook_rate_limit_per_minute":  "auth.webhook_rate_limit_per_minute",
		"auth_dashboard_rate_limit_per_minute": "auth.dashboard_rate_limit_per_minute",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage, such as
// a hot-reload scenario with proper mutex protection around the active
// *Config, or tests that need to assemble configuration programmatically.
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The caller is responsible for mutex protection when swapping the active
// *Config during a reload.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
