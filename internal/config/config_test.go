package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %s, want %s", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Server.DisableDelay.Duration() != 200*time.Millisecond {
		t.Errorf("DisableDelay = %s, want 200ms", cfg.Server.DisableDelay.Duration())
	}
	if cfg.Preferences.Backend != BackendSQLite {
		t.Errorf("Preferences.Backend = %s, want sqlite", cfg.Preferences.Backend)
	}
	if len(cfg.Catalog) == 0 {
		t.Error("default catalog should not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  disable_delay: 1s
catalog:
  - id: cpu
    name: CPU
    unit: "%"
  - id: nginx
    name: Nginx requests
    plugin: true
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %s, want default", cfg.Server.Addr)
	}
	if cfg.Server.DisableDelay.Duration() != time.Second {
		t.Errorf("DisableDelay = %s, want 1s", cfg.Server.DisableDelay.Duration())
	}
	if cfg.SSH.Port != 22 {
		t.Errorf("SSH.Port = %d, want 22", cfg.SSH.Port)
	}
	if cfg.Kafka.Topic != DefaultKafkaTopic {
		t.Errorf("Kafka.Topic = %s, want %s", cfg.Kafka.Topic, DefaultKafkaTopic)
	}

	metrics := cfg.Metrics()
	if len(metrics) != 2 {
		t.Fatalf("Metrics() len = %d, want 2", len(metrics))
	}
	for _, m := range metrics {
		if !m.BuiltIn {
			t.Errorf("metric %s should be built-in", m.ID)
		}
	}
	if !metrics[1].IsPlugin {
		t.Error("nginx should be a plugin metric")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad yaml", "server: [", "parse config"},
		{"bad duration", "server:\n  disable_delay: soon", "parse config"},
		{"unknown backend", "preferences:\n  backend: etcd", "unknown backend"},
		{"redis without addr", "preferences:\n  backend: redis", "requires an addr"},
		{"kafka without brokers", "kafka:\n  enabled: true", "without brokers"},
		{"catalog without id", "catalog:\n  - name: CPU", "has no id"},
		{"duplicate catalog", "catalog:\n  - id: cpu\n  - id: cpu", "duplicate metric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Preferences.Backend = BackendRedis
	cfg.Preferences.Redis.Addr = "localhost:6379"
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Session.Authenticated = true

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, path, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if path != configPath {
		t.Errorf("path = %s, want %s", path, configPath)
	}

	if loaded.Preferences.Backend != BackendRedis || loaded.Preferences.Redis.Addr != "localhost:6379" {
		t.Errorf("Preferences = %+v, want redis at localhost:6379", loaded.Preferences)
	}
	if !loaded.Kafka.Enabled || len(loaded.Kafka.Brokers) != 1 {
		t.Errorf("Kafka = %+v, want enabled with one broker", loaded.Kafka)
	}
	if !loaded.Session.Authenticated {
		t.Error("Session.Authenticated should survive a round trip")
	}
	if loaded.SSH.Timeout != cfg.SSH.Timeout {
		t.Errorf("SSH.Timeout = %s, want %s", loaded.SSH.Timeout.Duration(), cfg.SSH.Timeout.Duration())
	}
}

func TestLoadFromMissingPath(t *testing.T) {
	if _, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromPath() should fail for a missing file")
	}
}

func TestResolvePath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))
	t.Setenv(EnvConfigPath, "")

	cfg := DefaultConfig()
	workDir := filepath.Join(tmpDir, "work")
	if err := cfg.Save(filepath.Join(workDir, ConfigFileName)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	oldWd, _ := os.Getwd()
	os.Chdir(workDir)
	defer os.Chdir(oldWd)

	found, err := ResolvePath("")
	if err != nil {
		t.Fatalf("ResolvePath() error: %v", err)
	}
	if filepath.Base(found) != ConfigFileName || !filepath.IsAbs(found) {
		t.Errorf("ResolvePath() = %s, want absolute path to %s in working directory", found, ConfigFileName)
	}

	// Env path doesn't exist, should fall back
	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")
	if found, err = ResolvePath(""); err != nil || found == "" {
		t.Errorf("ResolvePath() = %q, %v, want fallback to working directory", found, err)
	}

	fromEnv := filepath.Join(tmpDir, "env.yaml")
	if err := cfg.Save(fromEnv); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	t.Setenv(EnvConfigPath, fromEnv)
	if found, _ = ResolvePath(""); found != fromEnv {
		t.Errorf("ResolvePath() = %s, want %s", found, fromEnv)
	}

	fromFlag := filepath.Join(tmpDir, "flag.yaml")
	if err := cfg.Save(fromFlag); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if found, _ = ResolvePath(fromFlag); found != fromFlag {
		t.Errorf("ResolvePath(flag) = %s, want %s over env and working directory", found, fromFlag)
	}

	if _, err := ResolvePath(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("ResolvePath() should fail when the --config file is missing")
	}
}

func TestResolvePathUserConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	xdg := filepath.Join(tmpDir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))
	t.Setenv(EnvConfigPath, "")

	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	if found, err := ResolvePath(""); err != nil || found != "" {
		t.Errorf("ResolvePath() = %q, %v, want nothing found", found, err)
	}

	want := filepath.Join(xdg, ConfigDirName, "config.yaml")
	if got := InitPath(""); got != want {
		t.Errorf("InitPath() = %s, want %s", got, want)
	}
	if err := DefaultConfig().Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if found, _ := ResolvePath(""); found != want {
		t.Errorf("ResolvePath() = %s, want %s", found, want)
	}
	if got := InitPath("./custom.yaml"); got != "./custom.yaml" {
		t.Errorf("InitPath(flag) = %s, want the flag value", got)
	}
}

func TestLoadWithFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monview.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, found, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if found != path || cfg.Server.Addr != ":9999" {
		t.Errorf("Load() = %s at %s, want :9999 at %s", cfg.Server.Addr, found, path)
	}
}

func TestSummary(t *testing.T) {
	s := DefaultConfig().Summary()
	if !strings.Contains(s, "Catalog (4): cpu memory load disk") {
		t.Errorf("Summary() = %q", s)
	}
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)

	if d.Duration() != 5*time.Minute {
		t.Errorf("Duration() = %s, want 5m", d.Duration())
	}

	marshaled, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML() error: %v", err)
	}
	if marshaled != "5m0s" {
		t.Errorf("MarshalYAML() = %v, want 5m0s", marshaled)
	}
}
