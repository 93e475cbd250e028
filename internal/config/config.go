// Package config loads and resolves the Claudeway gateway configuration.
//
// The config file is config.yaml (preferred) or config.json; per-channel
// settings overlay workspace defaults at resolve time. The Agent itself may
// rewrite the file through its filesystem tools, so saves are atomic and the
// gateway watches the file for changes.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ResponseMode selects how Agent output is delivered back to the thread.
type ResponseMode string

const (
	ResponseBatch        ResponseMode = "batch"
	ResponseStreamUpdate ResponseMode = "stream-update"
	ResponseStreamNative ResponseMode = "stream-native"
)

// ProcessMode selects how Agent processes are reused across messages.
type ProcessMode string

const (
	ProcessOneshot    ProcessMode = "oneshot"
	ProcessPersistent ProcessMode = "persistent"
)

// Config is the root configuration for the Claudeway gateway.
type Config struct {
	Channels      map[string]ChannelConfig `yaml:"channels" json:"channels"`
	Defaults      Defaults                 `yaml:"defaults" json:"defaults"`
	SystemChannel string                   `yaml:"systemChannel,omitempty" json:"systemChannel,omitempty"`
	Slack         SlackConfig              `yaml:"slack,omitempty" json:"slack,omitempty"`

	path string
	mu   sync.RWMutex
}

// SlackConfig holds the chat platform connection settings.
// Tokens come from env only (SLACK_BOT_TOKEN, SLACK_APP_TOKEN) — never persisted.
type SlackConfig struct {
	BotToken string `yaml:"-" json:"-"`
	AppToken string `yaml:"-" json:"-"`
}

// ChannelConfig is the per-channel section of the config file.
// Zero values fall back to Defaults at resolve time.
type ChannelConfig struct {
	Name         string       `yaml:"name" json:"name"`
	Folder       string       `yaml:"folder" json:"folder"`
	Model        string       `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string       `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	TimeoutMs    int          `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	ResponseMode ResponseMode `yaml:"responseMode,omitempty" json:"responseMode,omitempty"`
	ProcessMode  ProcessMode  `yaml:"processMode,omitempty" json:"processMode,omitempty"`
}

// Defaults are the workspace-wide fallback values.
type Defaults struct {
	Model        string       `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string       `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	TimeoutMs    int          `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	ResponseMode ResponseMode `yaml:"responseMode,omitempty" json:"responseMode,omitempty"`
	ProcessMode  ProcessMode  `yaml:"processMode,omitempty" json:"processMode,omitempty"`
}

// Resolved is the effective runtime configuration for one channel after
// overlaying its overrides on the workspace defaults.
type Resolved struct {
	ChannelID    string
	Name         string
	Folder       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	ResponseMode ResponseMode
	ProcessMode  ProcessMode
}

// DefaultTimeout applies when neither the channel nor the defaults set one.
const DefaultTimeout = 5 * time.Minute

// Path returns the config file path this Config was loaded from.
func (c *Config) Path() string { return c.path }

// Resolve computes the effective configuration for a channel.
// Returns false when the channel is not configured.
func (c *Config) Resolve(channelID string) (Resolved, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, ok := c.Channels[channelID]
	if !ok {
		return Resolved{}, false
	}

	r := Resolved{
		ChannelID:    channelID,
		Name:         ch.Name,
		Folder:       ExpandHome(ch.Folder),
		Model:        ch.Model,
		SystemPrompt: ch.SystemPrompt,
		ResponseMode: ch.ResponseMode,
		ProcessMode:  ch.ProcessMode,
	}
	if r.Name == "" {
		r.Name = channelID
	}
	if r.Model == "" {
		r.Model = c.Defaults.Model
	}
	if r.SystemPrompt == "" {
		r.SystemPrompt = c.Defaults.SystemPrompt
	}
	timeoutMs := ch.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = c.Defaults.TimeoutMs
	}
	if timeoutMs > 0 {
		r.Timeout = time.Duration(timeoutMs) * time.Millisecond
	} else {
		r.Timeout = DefaultTimeout
	}
	if r.ResponseMode == "" {
		r.ResponseMode = c.Defaults.ResponseMode
	}
	if r.ResponseMode == "" {
		r.ResponseMode = ResponseBatch
	}
	if r.ProcessMode == "" {
		r.ProcessMode = c.Defaults.ProcessMode
	}
	if r.ProcessMode == "" {
		r.ProcessMode = ProcessOneshot
	}

	// The CONFIG_PATH token lets the system prompt point the Agent at its own
	// config file for natural-language reconfiguration.
	r.SystemPrompt = strings.ReplaceAll(r.SystemPrompt, "CONFIG_PATH", c.path)

	return r, true
}

// ResolveByName finds a channel ID by its display name ("project-two",
// "#project-two"). Returns false when no channel matches.
func (c *Config) ResolveByName(name string) (string, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, ch := range c.Channels {
		if ch.Name == name || id == name {
			return id, true
		}
	}
	return "", false
}

// ChannelIDs returns the configured channel IDs.
func (c *Config) ChannelIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.Channels))
	for id := range c.Channels {
		ids = append(ids, id)
	}
	return ids
}

// ReplaceFrom swaps the mutable sections of c with those of fresh.
// Used by the file watcher so long-lived holders of *Config see updates.
func (c *Config) ReplaceFrom(fresh *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Channels = fresh.Channels
	c.Defaults = fresh.Defaults
	c.SystemChannel = fresh.SystemChannel
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, ch := range c.Channels {
		if ch.Folder == "" {
			return fmt.Errorf("channel %s: folder is required", id)
		}
		switch ch.ResponseMode {
		case "", ResponseBatch, ResponseStreamUpdate, ResponseStreamNative:
		default:
			return fmt.Errorf("channel %s: unknown responseMode %q", id, ch.ResponseMode)
		}
		switch ch.ProcessMode {
		case "", ProcessOneshot, ProcessPersistent:
		default:
			return fmt.Errorf("channel %s: unknown processMode %q", id, ch.ProcessMode)
		}
	}
	return nil
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return home + path[1:]
	}
	return path
}
