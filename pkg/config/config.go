// Package config loads the CK3Raven daemon's optional YAML configuration
// file and applies environment-variable overrides, the same layering the
// teacher pack uses for its own project config (pkg/ingestion/config.go,
// cmd/cie/config.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds daemon-wide settings. Every field has a default so a missing
// or partially-specified config.yaml is never an error.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string `yaml:"db_path"`

	// IPCPort is the TCP port the IPC server listens on (127.0.0.1 only).
	IPCPort int `yaml:"ipc_port"`

	// PlaysetPath, if set, is consulted by `enqueue_scan` when no explicit
	// playset file is given on the request.
	PlaysetPath string `yaml:"playset_path"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

const (
	defaultIPCPort  = 47631
	defaultLogLevel = "info"
)

// Default returns a Config populated with CK3Raven's built-in defaults,
// rooted under the user's home directory.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".ck3raven")
	return Config{
		DBPath:   filepath.Join(base, "ck3raven.db"),
		IPCPort:  defaultIPCPort,
		LogLevel: defaultLogLevel,
	}
}

// Load reads the YAML config file at path (if it exists), layers it over
// Default(), and finally applies CK3RAVEN_* environment variable overrides.
// A missing file at path is not an error: Load falls back to defaults plus
// environment overrides, mirroring the teacher's "use empty config if none
// found" behavior in cmd/cie/main.go's serve dispatch.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults + env
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CK3RAVEN_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CK3RAVEN_IPC_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.IPCPort = port
		}
	}
	if v := os.Getenv("CK3RAVEN_PLAYSET"); v != "" {
		c.PlaysetPath = v
	}
}

// DefaultConfigPath returns the canonical config.yaml location,
// ~/.ck3raven/config.yaml, without requiring it to exist.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ck3raven", "config.yaml")
}
