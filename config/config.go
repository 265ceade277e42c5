// Package config loads user settings from a YAML file with MINUTES_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"minutes/waveform"
)

const envPrefix = "MINUTES_"

type Config struct {
	Recipient     string        `yaml:"recipient" koanf:"recipient"`
	Device        string        `yaml:"device" koanf:"device"`
	Language      string        `yaml:"language" koanf:"language"`
	Model         string        `yaml:"model" koanf:"model"`
	Bars          int           `yaml:"bars" koanf:"bars"`
	FrameInterval time.Duration `yaml:"frame_interval" koanf:"frame_interval"`
	Beep          bool          `yaml:"beep" koanf:"beep"`
	Hotkey        bool          `yaml:"hotkey" koanf:"hotkey"`
	LogPath       string        `yaml:"log_path" koanf:"log_path"`
}

func DefaultConfig() *Config {
	return &Config{
		Language:      "en",
		Bars:          waveform.DefaultBars,
		FrameInterval: waveform.DefaultFrameInterval,
		Beep:          true,
		Hotkey:        true,
	}
}

// DefaultPath is config.yaml under the user config directory
// ($XDG_CONFIG_HOME/minutes on Linux).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "minutes.yaml"
	}
	return filepath.Join(dir, "minutes", "config.yaml")
}

// Load reads path over the defaults, then overlays MINUTES_* environment
// variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Bars < 8 || c.Bars > 256 {
		return fmt.Errorf("bars must be between 8 and 256, got %d", c.Bars)
	}
	if c.FrameInterval < 8*time.Millisecond || c.FrameInterval > time.Second {
		return fmt.Errorf("frame_interval must be between 8ms and 1s, got %s", c.FrameInterval)
	}
	if c.Language != "" && strings.ContainsAny(c.Language, " &?=/") {
		return fmt.Errorf("invalid language %q", c.Language)
	}
	return nil
}
