// https://github.com/relaysync/core

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment variables,
// an optional YAML config file, and built-in defaults.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: override any setting via environment variables
//
// Configuration Categories:
//
//  1. Nodes: the fleet of media-library servers kept in sync (Servers).
//  2. Sync: which fields propagate and how aggressively (Sync).
//  3. PathSyncPolicy: retry behavior for items not yet visible on a target node.
//  4. Database: the embedded store file (Database).
//  5. Server: the inbound HTTP listener (Server).
//  6. Logging: log level and output format (Logging).
//
// Thread Safety: Config is immutable after Load() and safe for concurrent
// read access from multiple goroutines.
type Config struct {
	Servers        []NodeConfig           `koanf:"servers"`
	Sync           SyncConfig             `koanf:"sync"`
	PathSyncPolicy []PathSyncPolicyConfig `koanf:"path_sync_policy"`
	Database       DatabaseConfig         `koanf:"database"`
	Server         ServerConfig           `koanf:"server"`
	Logging        LoggingConfig          `koanf:"logging"`
	Auth           AuthConfig             `koanf:"auth"`
}

// NodeConfig describes one media-library node in the fleet.
//
// Environment Variables (only the first configured node, for convenience):
//   - NODE_NAME, NODE_URL, NODE_API_KEY, NODE_PASSWORDLESS
//
// Multiple nodes are normally supplied via the YAML config file's
// `servers` array, since environment variables cannot express a list of
// structs cleanly.
type NodeConfig struct {
	// Name is the node's identifier, used as the {node_name} path segment
	// on the inbound webhook route and as the origin/target key throughout
	// the Store.
	Name string `koanf:"name"`

	// URL is the node's management API base URL.
	URL string `koanf:"url"`

	// APIKey authenticates outbound REST calls to this node. Encrypted at
	// rest via CredentialEncryptor when persisted outside the config file.
	APIKey string `koanf:"api_key"`

	// Passwordless marks a node that does not require a password on user
	// creation; UserCreated fan-out calls create_user without generating
	// a random password for this node.
	Passwordless bool `koanf:"passwordless"`
}

// SyncConfig controls which user-state fields propagate between nodes and
// how aggressively the Ingestor and Sync Worker behave.
type SyncConfig struct {
	// PlaybackProgress enables propagation of PlaybackProgress events.
	// Default: true
	PlaybackProgress bool `koanf:"playback_progress"`

	// WatchedStatus enables propagation of played/unplayed state.
	// Default: true
	WatchedStatus bool `koanf:"watched_status"`

	// Favorites enables propagation of the favorite flag.
	// Default: true
	Favorites bool `koanf:"favorites"`

	// Ratings enables propagation of the rating field.
	// Default: true
	Ratings bool `koanf:"ratings"`

	// Playlists enables the best-effort playlist reconciliation pass
	// (list-and-diff by name; the webhook schema carries no delta).
	// Default: false
	Playlists bool `koanf:"playlists"`

	// ProgressDebounceSeconds is the window within which a new Progress
	// intent for the same (source_user, item, target_node) coalesces into
	// an already-pending row instead of enqueuing a second one.
	// Default: 30
	ProgressDebounceSeconds int `koanf:"progress_debounce_seconds"`

	// WorkerIntervalSeconds is the tick period of the Sync Worker's
	// cooperative loop.
	// Default: 5
	WorkerIntervalSeconds int `koanf:"worker_interval_seconds"`

	// MaxRetries bounds the Transient-error retry budget per event before
	// it is finalized as failed.
	// Default: 5
	MaxRetries int `koanf:"max_retries"`

	// LeaseBatchSize is the number of due events the Worker leases per
	// tick.
	// Default: 32
	LeaseBatchSize int `koanf:"lease_batch_size"`
}

// PathSyncPolicyConfig is one (prefix, max_attempts, delay_seconds) rule
// consulted by the Policy Engine on ItemAbsent. The rule whose prefix is
// the longest match for an item's path wins; AbsentRetryCount=-1 means
// unbounded retries.
type PathSyncPolicyConfig struct {
	Prefix            string `koanf:"prefix"`
	AbsentRetryCount  int    `koanf:"absent_retry_count"`
	RetryDelaySeconds int    `koanf:"retry_delay_seconds"`
}

// DatabaseConfig holds the embedded store's file-backed settings.
type DatabaseConfig struct {
	Path string `koanf:"path"`

	// WALPath is the BadgerDB directory used as the durable pre-log
	// before events are committed to the Store. Defaults next to Path.
	WALPath string `koanf:"wal_path"`
}

// ServerConfig holds inbound HTTP listener settings.
type ServerConfig struct {
	Port    int           `koanf:"port"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
}

// AuthConfig holds the dashboard API's authentication and exposure
// settings. The webhook route (POST /webhook/{node_name}) is
// unauthenticated by design, since the calling node has no way to
// attach a bearer token; it relies on rate limiting instead.
type AuthConfig struct {
	// JWTSecret signs dashboard session tokens (HS256). Required for
	// the dashboard/operator API to start; not consulted for the
	// webhook route.
	JWTSecret string `koanf:"jwt_secret"`

	// Username/Password are the single operator credential pair
	// exchanged for a JWT at POST /api/login. relaysync has no
	// multi-user account system; one operator identity is enough for
	// an internal sync service.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// SessionTimeout is how long an issued dashboard token remains
	// valid.
	// Default: 24h
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// CORSAllowedOrigins lists origins permitted to call the dashboard
	// API from a browser. Empty means no cross-origin access.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// WebhookRateLimitPerMinute bounds requests per source IP to the
	// webhook route.
	// Default: 600
	WebhookRateLimitPerMinute int `koanf:"webhook_rate_limit_per_minute"`

	// DashboardRateLimitPerMinute bounds requests per source IP to the
	// dashboard read routes.
	// Default: 120
	DashboardRateLimitPerMinute int `koanf:"dashboard_rate_limit_per_minute"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// NodeNames returns the configured node names in declaration order.
func (c *Config) NodeNames() []string {
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	return names
}

// NodeByName returns the NodeConfig with the given name, or nil if no such
// node is configured.
func (c *Config) NodeByName(name string) *NodeConfig {
	for i := range c.Servers {
		if c.Servers[i].Name == name {
			return &c.Servers[i]
		}
	}
	return nil
}

// OtherNodes returns every configured node except the one named origin,
// in declaration order. Used by the Ingestor to fan an event out to every
// target node and by user-lifecycle propagation.
func (c *Config) OtherNodes(origin string) []NodeConfig {
	others := make([]NodeConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name != origin {
			others = append(others, s)
		}
	}
	return others
}

// Load reads configuration from defaults, an optional YAML file, and
// environment variables, in that precedence order, and validates the
// result.
//
// See LoadWithKoanf() for the underlying implementation.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// validateRequired is a small helper shared by the field validators in
// config_validate.go.
func validateRequired(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
