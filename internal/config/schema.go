package config

import (
	"time"

	"monview/internal/domain"
)

// Config is the root configuration structure
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Log         LogConfig         `yaml:"log"`
	Session     SessionConfig     `yaml:"session"`
	Catalog     []CatalogMetric   `yaml:"catalog"`
	SSH         SSHConfig         `yaml:"ssh"`
	Probe       ProbeConfig       `yaml:"probe"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Install     InstallConfig     `yaml:"install"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	DisableDelay Duration `yaml:"disable_delay"`
	AccountURL   string   `yaml:"account_url,omitempty"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Preference backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// PreferencesConfig selects where per-machine view preferences live
type PreferencesConfig struct {
	Backend string      `yaml:"backend"` // sqlite or redis
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// SessionConfig describes the operator's account
type SessionConfig struct {
	Authenticated bool `yaml:"authenticated"`
	Plan          bool `yaml:"plan"`
}

// CatalogMetric is a built-in metric offered on every machine
type CatalogMetric struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Unit   string `yaml:"unit,omitempty"`
	Plugin bool   `yaml:"plugin,omitempty"`
}

// SSHConfig holds settings for reaching machines over SSH
type SSHConfig struct {
	User           string   `yaml:"user"`
	KeyPath        string   `yaml:"key_path,omitempty"`
	KnownHostsPath string   `yaml:"known_hosts_path,omitempty"`
	Port           int      `yaml:"port"`
	Timeout        Duration `yaml:"timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`
}

// ProbeConfig controls reachability checks
type ProbeConfig struct {
	Nmap              bool     `yaml:"nmap"`
	SkipHostDiscovery bool     `yaml:"skip_host_discovery"`
	Timeout           Duration `yaml:"timeout"`
}

// KafkaConfig holds the external event bridge settings
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
	GroupID string   `yaml:"group_id,omitempty"`
}

// InstallConfig holds the agent install command template
type InstallConfig struct {
	Command string `yaml:"command,omitempty"`
}

// Metrics converts the catalog into built-in domain metrics
func (c *Config) Metrics() []*domain.Metric {
	metrics := make([]*domain.Metric, 0, len(c.Catalog))
	for _, m := range c.Catalog {
		metrics = append(metrics, &domain.Metric{
			ID:       m.ID,
			Name:     m.Name,
			Unit:     m.Unit,
			IsPlugin: m.Plugin,
			BuiltIn:  true,
		})
	}
	return metrics
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
