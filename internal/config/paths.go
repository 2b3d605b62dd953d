package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names the config file when no --config flag is given
	EnvConfigPath = "MONVIEW_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "monview.yaml"
	// ConfigDirName is the directory under the user and system config roots
	ConfigDirName = "monview"

	userConfigFile = "config.yaml"
)

// source is one place a config file may come from
type source struct {
	name     string
	path     string
	required bool
}

// sources lists config locations, most specific first. A flag value is
// required to exist; every other location is skipped when absent.
func sources(flag string) []source {
	var out []source
	if flag != "" {
		out = append(out, source{name: "--config", path: flag, required: true})
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		out = append(out, source{name: EnvConfigPath, path: env})
	}
	out = append(out, source{name: "working directory", path: ConfigFileName})
	for _, dir := range userConfigDirs() {
		out = append(out, source{name: "user config", path: filepath.Join(dir, ConfigDirName, userConfigFile)})
	}
	out = append(out, source{name: "system config", path: filepath.Join("/etc", ConfigDirName, userConfigFile)})
	return out
}

// userConfigDirs returns $XDG_CONFIG_HOME then ~/.config, skipping unset ones
func userConfigDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, xdg)
	}
	if home := os.Getenv("HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, ".config"))
	}
	return dirs
}

// ResolvePath picks the config file to load. flag is the --config value and
// wins over $MONVIEW_CONFIG, ./monview.yaml, the user config dir and /etc.
// An empty result with a nil error means no file was found.
func ResolvePath(flag string) (string, error) {
	for _, src := range sources(flag) {
		if fileExists(src.path) {
			return absPath(src.path), nil
		}
		if src.required {
			return "", fmt.Errorf("config from %s: %s not found", src.name, src.path)
		}
	}
	return "", nil
}

// InitPath is where `config init` writes: the flag value when given,
// otherwise the first user config dir, otherwise the working directory.
func InitPath(flag string) string {
	if flag != "" {
		return flag
	}
	if dirs := userConfigDirs(); len(dirs) > 0 {
		return filepath.Join(dirs[0], ConfigDirName, userConfigFile)
	}
	return ConfigFileName
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
