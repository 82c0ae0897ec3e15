// Package config turns viper settings, environment variables and stored
// secrets into the typed configuration of each component.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName names the configuration directory and the env prefix.
const AppName = "alfred"

// ExpandPath expands a leading ~ and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}

// Dir returns ~/.config/alfred, honoring XDG_CONFIG_HOME.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	return ExpandPath(filepath.Join("~", ".config", AppName))
}
