// Package config handles uor.toml run configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level uor.toml structure.
type Config struct {
	VM         VMConfig         `toml:"vm"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Log        LogConfig        `toml:"log"`
}

// VMConfig bounds a run.
type VMConfig struct {
	// StepLimit caps executed instructions; 0 means unlimited.
	StepLimit int64 `toml:"step-limit"`
}

// CheckpointConfig locates the checkpoint store.
type CheckpointConfig struct {
	Path string `toml:"path"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns the configuration used when no uor.toml is present. The
// checkpoint path is empty, so no store is opened unless asked for.
func Default() *Config {
	return &Config{}
}

// Load parses a uor.toml file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadIfPresent loads path when it exists and falls back to defaults
// otherwise.
func LoadIfPresent(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
