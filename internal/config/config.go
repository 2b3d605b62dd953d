// Package config provides configuration management for monview.
//
// Config file locations (priority order):
//  1. --config
//  2. $MONVIEW_CONFIG
//  3. ./monview.yaml
//  4. $XDG_CONFIG_HOME/monview/config.yaml, ~/.config/monview/config.yaml
//  5. /etc/monview/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr         = ":8080"
	DefaultDatabasePath = "./monview.db"
	DefaultDisableDelay = 200 * time.Millisecond
	DefaultRedisPrefix  = "monview:prefs:"
	DefaultKafkaTopic   = "monview.events"
	DefaultKafkaGroup   = "monview"
)

// Load resolves the config file for the given --config value and loads it,
// or returns defaults if none is found
func Load(flag string) (*Config, string, error) {
	path, err := ResolvePath(flag)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{
		Probe: ProbeConfig{Nmap: true, SkipHostDiscovery: true},
		Catalog: []CatalogMetric{
			{ID: "cpu", Name: "CPU", Unit: "%"},
			{ID: "memory", Name: "Memory", Unit: "%"},
			{ID: "load", Name: "Load"},
			{ID: "disk", Name: "Disk", Unit: "%"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.DisableDelay == 0 {
		c.Server.DisableDelay = Duration(DefaultDisableDelay)
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Preferences.Backend == "" {
		c.Preferences.Backend = BackendSQLite
	}
	if c.Preferences.Redis.Prefix == "" {
		c.Preferences.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.Timeout == 0 {
		c.SSH.Timeout = Duration(10 * time.Second)
	}
	if c.SSH.CommandTimeout == 0 {
		c.SSH.CommandTimeout = Duration(5 * time.Minute)
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(30 * time.Second)
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = DefaultKafkaGroup
	}
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	switch c.Preferences.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Preferences.Redis.Addr == "" {
			return fmt.Errorf("preferences: redis backend requires an addr")
		}
	default:
		return fmt.Errorf("preferences: unknown backend %q", c.Preferences.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: enabled without brokers")
	}

	seen := make(map[string]bool, len(c.Catalog))
	for _, m := range c.Catalog {
		if m.ID == "" {
			return fmt.Errorf("catalog: metric %q has no id", m.Name)
		}
		if seen[m.ID] {
			return fmt.Errorf("catalog: duplicate metric %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Listen: %s, Database: %s, Preferences: %s\n",
		c.Server.Addr, c.Database.Path, c.Preferences.Backend)
	fmt.Fprintf(&b, "Catalog (%d):", len(c.Catalog))
	for _, m := range c.Catalog {
		fmt.Fprintf(&b, " %s", m.ID)
	}
	if c.Kafka.Enabled {
		fmt.Fprintf(&b, "\nKafka: %s on %s", c.Kafka.Topic, strings.Join(c.Kafka.Brokers, ","))
	}
	return b.String()
}
