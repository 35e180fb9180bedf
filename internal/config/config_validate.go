// https://github.com/relaysync/core

package config

import (
	"fmt"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServers(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validatePathSyncPolicy(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateAuth()
}

// validateServers validates the configured node fleet. At least two nodes
// are required for there to be anything to sync, and names must be unique
// since they are used as both the webhook path segment and the Store's
// origin/target key.
func (c *Config) validateServers() error {
	if len(c.Servers) < 2 {
		return fmt.Errorf("at least two servers are required to sync between")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if err := validateRequired(s.Name, fmt.Sprintf("servers[%d].name", i)); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d].name %q is not unique", i, s.Name)
		}
		seen[s.Name] = true

		if err := validateHTTPURL(s.URL, fmt.Sprintf("servers[%d].url", i)); err != nil {
			return err
		}
		if !s.Passwordless {
			if err := validateRequired(s.APIKey, fmt.Sprintf("servers[%d].api_key", i)); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateSync validates synchronization tuning parameters.
func (c *Config) validateSync() error {
	if c.Sync.ProgressDebounceSeconds < 0 {
		return fmt.Errorf("sync.progress_debounce_seconds must be >= 0")
	}
	if c.Sync.WorkerIntervalSeconds <= 0 {
		return fmt.Errorf("sync.worker_interval_seconds must be > 0")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0")
	}
	if c.Sync.LeaseBatchSize <= 0 {
		return fmt.Errorf("sync.lease_batch_size must be > 0")
	}
	return nil
}

// validatePathSyncPolicy validates the longest-prefix retry rules. Per the
// Policy Engine's contract, AbsentRetryCount=-1 means unbounded and is
// valid; any other negative value is a configuration error.
func (c *Config) validatePathSyncPolicy() error {
	for i, rule := range c.PathSyncPolicy {
		if err := validateRequired(rule.Prefix, fmt.Sprintf("path_sync_policy[%d].prefix", i)); err != nil {
			return err
		}
		if rule.AbsentRetryCount < -1 {
			return fmt.Errorf("path_sync_policy[%d].absent_retry_count must be -1 or >= 0", i)
		}
		if rule.RetryDelaySeconds < 0 {
			return fmt.Errorf("path_sync_policy[%d].retry_delay_seconds must be >= 0", i)
		}
	}
	return nil
}

// validateDatabase validates the embedded store's file settings.
func (c *Config) validateDatabase() error {
	return validateRequired(c.Database.Path, "database.path")
}

// validateServer validates the inbound HTTP listener configuration.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}

// validLogLevels enumerates the zerolog levels this application accepts.
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted log output formats.
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration.
func (c *Config) validateLogging() error {
	if err := c.validateLogLevel(); err != nil {
		return err
	}
	return c.validateLogFormat()
}

func (c *Config) validateLogLevel() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	return nil
}

func (c *Config) validateLogFormat() error {
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}
	return nil
}

// validateAuth validates the dashboard API's authentication settings.
// JWTSecret follows the same minimum-length requirement as the
// teacher's SecurityConfig: short secrets are brute-forceable.
func (c *Config) validateAuth() error {
	if err := validateRequired(c.Auth.JWTSecret, "auth.jwt_secret"); err != nil {
		return err
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if err := validateRequired(c.Auth.Username, "auth.username"); err != nil {
		return err
	}
	if err := validateRequired(c.Auth.Password, "auth.password"); err != nil {
		return err
	}
	if c.Auth.WebhookRateLimitPerMinute <= 0 {
		return fmt.Errorf("auth.webhook_rate_limit_per_minute must be > 0")
	}
	if c.Auth.DashboardRateLimitPerMinute <= 0 {
		return fmt.Errorf("auth.dashboard_rate_limit_per_minute must be > 0")
	}
	return nil
}
