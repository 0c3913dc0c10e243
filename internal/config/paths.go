// Package config defines the on-disk layout for facebridge state.
package config

import (
	"os"
	"path/filepath"
)

// Paths contains all filesystem locations used by the bridge.
type Paths struct {
	Home       string // Bridge home directory
	SettingsDB string // SQLite settings store path
	TokenFile  string // Persisted authentication token path
	Logs       string // Logs directory
}

// GetHome returns the bridge home directory (~/.facebridge), honouring
// the FACEBRIDGE_HOME override.
func GetHome() string {
	if home := os.Getenv("FACEBRIDGE_HOME"); home != "" {
		return home
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".facebridge")
}

// GetPaths returns the full path layout rooted at the bridge home.
func GetPaths() Paths {
	home := GetHome()
	return Paths{
		Home:       home,
		SettingsDB: filepath.Join(home, "settings.db"),
		TokenFile:  filepath.Join(home, "token"),
		Logs:       filepath.Join(home, "logs"),
	}
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the directory structure if it does not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()
	for _, dir := range []string{paths.Home, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}
	return paths, nil
}
