package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "systrayd"

// GetLogDir returns the log directory of the current user.
//
// D-Bus session services run on freedesktop platforms, so only the XDG
// layout is considered: /var/log/systrayd for root, otherwise
// $XDG_STATE_HOME/systrayd/logs (~/.local/state/systrayd/logs).
func GetLogDir() (string, error) {
	if os.Getuid() == 0 {
		return filepath.Join("/var/log", appName), nil
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Last resort fallback to temp directory
			return filepath.Join(os.TempDir(), appName, "logs"), nil
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}

	return filepath.Join(stateDir, appName, "logs"), nil
}

// EnsureLogDir creates the log directory if it doesn't exist
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0o755)
}

// GetLogFilePathWithDir returns the full path for a log file in logDir. An
// empty logDir means [GetLogDir]. The directory is created if needed.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	// Expand user home directory if needed
	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	return filepath.Join(logDir, filename), nil
}
