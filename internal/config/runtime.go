package config

import (
	"os"
	"path/filepath"
)

// GetRuntimePath resolves TUSK_RUNTIME_PATH before any .env is loaded.
// Relative paths are taken from the home directory.
func GetRuntimePath() string {
	return resolveRuntimePath(os.Getenv("TUSK_RUNTIME_PATH"))
}

func resolveRuntimePath(path string) string {
	if path == "" {
		path = ".tuskbridge"
	}

	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path)
	}
	return path
}

// IsDebug is read before config parsing so early startup can log at
// debug level.
func IsDebug() bool {
	return os.Getenv("TUSK_DEBUG") == "1"
}
