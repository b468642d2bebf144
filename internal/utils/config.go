package utils

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the directory holding kiosk state: $HOME/.facekiosk,
// or a temp dir when no home directory is available.
func GetDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "facekiosk")
	}
	return filepath.Join(home, ".facekiosk")
}
