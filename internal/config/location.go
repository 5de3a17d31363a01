package config

import (
	"os"
	"path/filepath"
)

// EnvConfig overrides the configuration file location.
const EnvConfig = "BEHAVIORD_CONFIG"

// GetConfigPath returns $BEHAVIORD_CONFIG, or ~/.behaviord/config.
func GetConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".behaviord", "config"), nil
}
