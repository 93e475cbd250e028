package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

func marshalJSONIndent(c *Config) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Default returns a Config with sensible defaults and no channels.
func Default() *Config {
	return &Config{
		Channels: map[string]ChannelConfig{},
		Defaults: Defaults{
			TimeoutMs:    int(DefaultTimeout.Milliseconds()),
			ResponseMode: ResponseBatch,
			ProcessMode:  ProcessOneshot,
		},
	}
}

// DiscoverPath picks the config file path: explicit flag value, then
// $CLAUDEWAY_CONFIG, then config.yaml next to the working directory,
// then config.json.
func DiscoverPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("CLAUDEWAY_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return "config.json"
}

// Load reads config from a YAML or JSON file, then overlays env vars.
// A missing file yields the defaults (first-run friendly).
func Load(path string) (*Config, error) {
	cfg := Default()
	abs, err := filepath.Abs(path)
	if err == nil {
		cfg.path = abs
	} else {
		cfg.path = path
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := unmarshalConfig(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func unmarshalConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		// JSON5 is a superset of JSON, and tolerates the trailing commas
		// the Agent tends to leave behind when it edits the file itself.
		return json5.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Secrets are env-only and never round-trip through the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.Slack.AppToken = v
	}
}

// Save writes the config back to its file atomically: marshal to
// <path>.tmp, parse the temp file back to validate, then rename over the
// original. A half-written or invalid file never replaces a good one.
func (c *Config) Save() error {
	c.mu.RLock()
	path := c.path
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = marshalJSONIndent(c)
	}
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config temp: %w", err)
	}

	check := Default()
	if err := unmarshalConfig(path, data, check); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("validate config temp: %w", err)
	}
	if err := check.Validate(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("validate config temp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
