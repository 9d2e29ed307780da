// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the roleroute server.
// It handles loading and parsing the YAML configuration file and provides
// structured access to routing roles, benchmark feeds, refresh policy,
// backends, and server settings.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/roleroute/internal/benchmark"
	"github.com/traylinx/roleroute/internal/steering"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces.
	Host string `yaml:"host"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsDir is the directory for rotated log files when LoggingToFile is set.
	LogsDir string `yaml:"logs-dir"`

	// LogsMaxSizeMB is the per-file rotation threshold in megabytes.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb"`

	// Roles configures role resolution and scoring profiles.
	Roles RolesConfig `yaml:"roles"`

	// NeutralScore substitutes for missing benchmark dimensions, 0-100.
	NeutralScore float64 `yaml:"neutral-score"`

	// Tolerance is the cross-source disagreement threshold on the 0-100
	// scale before a dimension is averaged and flagged low-confidence.
	Tolerance float64 `yaml:"tolerance"`

	// FreeTier lists model identities usable at no cost.
	FreeTier []string `yaml:"free-tier"`

	// Bootstrap maps roles to static fallback rankings used before the
	// first evaluation run publishes a snapshot.
	Bootstrap map[string][]string `yaml:"bootstrap"`

	// Feeds configures the benchmark sources polled during evaluation.
	Feeds []benchmark.FeedConfig `yaml:"feeds"`

	// Refresh controls the evaluation schedule.
	Refresh RefreshConfig `yaml:"refresh"`

	// Snapshots controls ranking snapshot persistence.
	Snapshots SnapshotConfig `yaml:"snapshots"`

	// AuditDBPath is the SQLite file recording evaluation runs. Empty
	// disables the audit trail.
	AuditDBPath string `yaml:"audit-db-path"`

	// UsageDBPath is the SQLite file recording per-request usage. Empty
	// disables usage accounting.
	UsageDBPath string `yaml:"usage-db-path"`

	// Backend is the OpenAI-compatible upstream requests are dispatched to.
	Backend BackendConfig `yaml:"backend"`

	// PromptsDir holds per-role prompt strategy .md files.
	PromptsDir string `yaml:"prompts-dir"`

	// Steering lists role-inference rules applied when a request carries
	// no explicit role.
	Steering []steering.Rule `yaml:"steering"`

	// ManagementKey protects the management endpoints (plaintext or bcrypt
	// hashed). Empty leaves management open; intended for localhost only.
	ManagementKey string `yaml:"management-key"`
}

// RolesConfig groups role resolution settings.
type RolesConfig struct {
	// Default is the role assumed when a request names none and steering
	// infers none.
	Default string `yaml:"default"`

	// Profiles maps each role to its dimension weights.
	Profiles map[string]map[string]float64 `yaml:"profiles"`
}

// RefreshConfig controls when evaluation runs happen.
type RefreshConfig struct {
	// Interval between scheduled incremental runs, as a duration string
	// like "6h". Empty means DefaultRefreshPeriod.
	Interval string `yaml:"interval"`

	// OnStart triggers an evaluation immediately at startup.
	OnStart bool `yaml:"on-start"`
}

// GetRefreshInterval returns the refresh interval as a time.Duration.
func (cfg *Config) GetRefreshInterval() time.Duration {
	interval, err := time.ParseDuration(cfg.Refresh.Interval)
	if err != nil || interval <= 0 {
		return DefaultRefreshPeriod
	}
	return interval
}

// SnapshotConfig controls ranking snapshot persistence.
type SnapshotConfig struct {
	// Dir is where snapshot artifacts are written. Empty disables
	// persistence; rankings then live only in memory.
	Dir string `yaml:"dir"`

	// Generations is how many snapshot artifacts to keep. Zero keeps all.
	Generations int `yaml:"generations"`
}

// BackendConfig describes the OpenAI-compatible upstream.
type BackendConfig struct {
	// BaseURL is the upstream API root, e.g. "https://api.example.com/v1".
	BaseURL string `yaml:"base-url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api-key"`

	// Timeout bounds a single upstream request, as a duration string like
	// "2m". Empty leaves the dispatcher default in place.
	Timeout string `yaml:"timeout"`
}

// GetBackendTimeout returns the backend request timeout as a time.Duration,
// or zero when unset.
func (cfg *Config) GetBackendTimeout() time.Duration {
	timeout, err := time.ParseDuration(cfg.Backend.Timeout)
	if err != nil || timeout <= 0 {
		return 0
	}
	return timeout
}

// Defaults applied when the YAML leaves keys unset.
const (
	DefaultPort          = 8317
	DefaultNeutralScore  = 50.0
	DefaultTolerance     = 10.0
	DefaultGenerations   = 3
	DefaultRefreshPeriod = 6 * time.Hour
)

// LoadConfig reads and validates the YAML configuration at configFile.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg := Config{
		Port:         DefaultPort,
		NeutralScore: DefaultNeutralScore,
		Tolerance:    DefaultTolerance,
		Snapshots:    SnapshotConfig{Generations: DefaultGenerations},
		Refresh:      RefreshConfig{OnStart: true},
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.ManagementKey != "" && !looksLikeBcrypt(cfg.ManagementKey) {
		hashed, errHash := hashSecret(cfg.ManagementKey)
		if errHash != nil {
			return nil, fmt.Errorf("failed to hash management key: %w", errHash)
		}
		cfg.ManagementKey = hashed
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
	}
	if c.NeutralScore < benchmark.ScoreMin || c.NeutralScore > benchmark.ScoreMax {
		return fmt.Errorf("neutral-score must be within [%g,%g], got %g",
			benchmark.ScoreMin, benchmark.ScoreMax, c.NeutralScore)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must be non-negative, got %g", c.Tolerance)
	}
	if c.Snapshots.Generations < 0 {
		return fmt.Errorf("snapshots.generations must be non-negative, got %d", c.Snapshots.Generations)
	}
	if c.Refresh.Interval != "" {
		if _, err := time.ParseDuration(c.Refresh.Interval); err != nil {
			return fmt.Errorf("refresh.interval is not a valid duration: %q", c.Refresh.Interval)
		}
	}

	if c.Roles.Default == "" {
		return fmt.Errorf("roles.default is required")
	}
	if len(c.Roles.Profiles) == 0 {
		return fmt.Errorf("roles.profiles must define at least one role")
	}
	if _, ok := c.Roles.Profiles[c.Roles.Default]; !ok {
		return fmt.Errorf("default role %q has no profile", c.Roles.Default)
	}
	for role, profile := range c.Roles.Profiles {
		if len(profile) == 0 {
			return fmt.Errorf("role %q has an empty profile", role)
		}
		for dim, weight := range profile {
			if weight <= 0 {
				return fmt.Errorf("role %q dimension %q has non-positive weight %g", role, dim, weight)
			}
		}
	}

	// Until the first evaluation publishes, the default role can only be
	// served from its bootstrap entry.
	if models, ok := c.Bootstrap[c.Roles.Default]; !ok || len(models) == 0 {
		return fmt.Errorf("bootstrap must list at least one model for default role %q", c.Roles.Default)
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, feed := range c.Feeds {
		if feed.ID == "" {
			return fmt.Errorf("feed %d has no id", i)
		}
		if seen[feed.ID] {
			return fmt.Errorf("duplicate feed id %q", feed.ID)
		}
		seen[feed.ID] = true
		if feed.URL == "" {
			return fmt.Errorf("feed %q has no url", feed.ID)
		}
		if feed.Records == "" {
			return fmt.Errorf("feed %q has no records path", feed.ID)
		}
		if feed.ModelPath == "" {
			return fmt.Errorf("feed %q has no model-path", feed.ID)
		}
		if len(feed.Dimensions) == 0 {
			return fmt.Errorf("feed %q maps no dimensions", feed.ID)
		}
	}

	return nil
}

// VerifyManagementKey reports whether the presented key matches the
// configured management key. Always false when no key is configured.
func (c *Config) VerifyManagementKey(presented string) bool {
	if c.ManagementKey == "" || presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.ManagementKey), []byte(presented)) == nil
}

// ManagementEnabled reports whether management endpoints require a key.
func (c *Config) ManagementEnabled() bool {
	return c.ManagementKey != ""
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// hashSecret hashes the given secret using bcrypt.
func hashSecret(secret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}
