package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	consts "github.com/khanhnv2901/tlsinspect/internal/shared/constants"
)

const (
	appDirName    = "tlsinspect"
	dataDirEnvVar = "TLSINSPECT_DATA_DIR"
	logListFile   = "log_list.json"
)

// dataDir returns the per-user data directory without creating it,
// following the XDG Base Directory specification on Linux/Unix.
func dataDir() (string, error) {
	if dir := os.Getenv(dataDirEnvVar); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = os.Getenv("APPDATA")
		}
		if base == "" {
			return "", fmt.Errorf("could not determine Windows data directory")
		}
		return filepath.Join(base, appDirName), nil

	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", appDirName), nil

	default:
		// $XDG_DATA_HOME/tlsinspect > ~/.local/share/tlsinspect
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appDirName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		return filepath.Join(home, ".local", "share", appDirName), nil
	}
}

// getDataDir is dataDir plus creation.
func getDataDir() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, consts.DefaultDirPerm); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// defaultLogListPath is where `logs update` stores the CT log list.
func defaultLogListPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logListFile), nil
}
