// https://github.com/relaysync/core

/*
Package config provides centralized configuration management for relaysync.

This package handles loading, validation, and parsing of the node fleet and
sync tuning parameters from a YAML config file and environment variables.
It ensures consistent configuration across the Ingestor, Sync Worker, and
HTTP layer, and provides sensible defaults for optional settings.

# Configuration Sources

The package reads configuration from, in increasing precedence:

  - Built-in defaults
  - An optional YAML config file (config.yaml, or CONFIG_PATH)
  - Environment variables

# Configuration Structure

  - NodeConfig: one entry per media-library node (servers[])
  - SyncConfig: which fields propagate and how aggressively
  - PathSyncPolicyConfig: longest-prefix retry rules for ItemAbsent
  - DatabaseConfig: the embedded store file and WAL directory
  - ServerConfig: the inbound HTTP listener
  - LoggingConfig: log level and output format

# Environment Variables

Scalar settings map directly to environment variables:

	SYNC_PLAYBACK_PROGRESS, SYNC_WATCHED_STATUS, SYNC_FAVORITES, SYNC_RATINGS,
	SYNC_PLAYLISTS, SYNC_PROGRESS_DEBOUNCE_SECONDS, SYNC_WORKER_INTERVAL_SECONDS,
	SYNC_MAX_RETRIES, SYNC_LEASE_BATCH_SIZE
	DATABASE_PATH, DATABASE_WAL_PATH
	HTTP_PORT, HTTP_HOST, HTTP_TIMEOUT
	LOG_LEVEL, LOG_FORMAT, LOG_CALLER

The node fleet (servers[]) and path_sync_policy[] arrays don't have a clean
scalar env var equivalent and are normally supplied via the YAML config
file. A single-node deployment may instead set NODE_NAME, NODE_URL,
NODE_API_KEY, and NODE_PASSWORDLESS, which seed a one-element servers list
when the file doesn't define one.

# Usage Example

	import "github.com/relaysync/core/internal/config"

	cfg, err := config.Load()
	if err != nil {
	    log.Fatalf("failed to load config: %v", err)
	}

	fmt.Printf("listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("nodes: %v\n", cfg.NodeNames())

# Validation

Load() validates:

  - At least two servers are configured, each with a unique name and a
    valid http(s) URL; api_key is required unless passwordless
  - sync tuning parameters are non-negative / positive as appropriate
  - path_sync_policy prefixes are non-empty, absent_retry_count is -1 or
    >= 0
  - database.path is set
  - server.port is in [1, 65535]
  - logging.level and logging.format are recognized values

# Thread Safety

The Config struct is immutable after Load() returns, making it safe for
concurrent access from multiple goroutines without synchronization.

# See Also

  - internal/supervisor: constructs node clients and health probes from
    the loaded Config
  - internal/store: opened against Config.Database
*/
package config
