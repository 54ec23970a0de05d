// Package storage persists search results: root move scores that warm-start
// move ordering, analysis records and cumulative search statistics.
package storage

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "abnnue"

// GetDataDir returns the platform-specific data directory, creating it:
// - macOS: ~/Library/Application Support/abnnue/
// - Linux: $XDG_DATA_HOME/abnnue/ or ~/.local/share/abnnue/
// - Windows: %APPDATA%/abnnue/
func GetDataDir() (string, error) {
	base, err := baseDataDir()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(base, appName))
}

// baseDataDir picks the per-user data root. An environment override wins
// over the home-relative default.
func baseDataDir() (string, error) {
	var env string
	var fallback []string
	switch runtime.GOOS {
	case "darwin":
		fallback = []string{"Library", "Application Support"}
	case "windows":
		env, fallback = "APPDATA", []string{"AppData", "Roaming"}
	default:
		env, fallback = "XDG_DATA_HOME", []string{".local", "share"}
	}

	if dir := os.Getenv(env); env != "" && dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{home}, fallback...)...), nil
}

// GetNNUEDir returns the directory searched for network files under dataDir,
// or under GetDataDir when dataDir is empty.
func GetNNUEDir(dataDir string) (string, error) {
	return subDir(dataDir, "nnue")
}

// GetDatabaseDir returns the BadgerDB directory under dataDir, or under
// GetDataDir when dataDir is empty.
func GetDatabaseDir(dataDir string) (string, error) {
	return subDir(dataDir, "db")
}

func subDir(dataDir, name string) (string, error) {
	if dataDir == "" {
		var err error
		if dataDir, err = GetDataDir(); err != nil {
			return "", err
		}
	}
	return ensureDir(filepath.Join(dataDir, name))
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
