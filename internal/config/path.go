package config

import (
	"os"
	"path/filepath"
)

const appDir = "logstreams"

// DefaultDataDir picks the data directory for the host: $XDG_DATA_HOME,
// /var/lib, the macOS or Windows application data folder, then ~/.logstreams.
// Without a home directory it falls back to ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	candidates := []struct{ parent, dir string }{
		{"/var/lib", filepath.Join("/var/lib", appDir)},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", appDir)},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", appDir)},
	}
	for _, c := range candidates {
		if isDir(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, "."+appDir)
}

// ResolveDataDir returns c.DataDir or DefaultDataDir when unset.
func (c Config) ResolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DefaultDataDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
