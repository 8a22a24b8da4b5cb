// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Round-trip through JSON so the intermediate HJSON map is decoded
	// into the typed struct.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory, looking
// for claudemand.hjson first, then claudemand.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"claudemand.hjson",
		"claudemand.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for claudemand.hjson, claudemand.json)")
}

// Default returns a Config with every default applied and no file read,
// used when claudemand is started without an explicit config path.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "claudemand"
	}
	if cfg.App.HostSession == "" {
		cfg.App.HostSession = "claudeman"
	}

	if cfg.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, "."+cfg.App.Name, "screens.json")
		}
	}

	if cfg.Session.DefaultShell == "" {
		cfg.Session.DefaultShell = "/bin/sh"
	}
	if cfg.Session.HistoryBytes == 0 {
		cfg.Session.HistoryBytes = 100_000
	}
	if cfg.Session.IdleTimeoutMs == 0 {
		cfg.Session.IdleTimeoutMs = 5000
	}

	if cfg.Watch.EventDebounce == "" {
		cfg.Watch.EventDebounce = "50ms"
	}
	if cfg.Watch.FixPlanDebounce == "" {
		cfg.Watch.FixPlanDebounce = "500ms"
	}

	if cfg.Tracker.MinPhraseLength == 0 {
		cfg.Tracker.MinPhraseLength = 6
	}
	if len(cfg.Tracker.CommonPhrases) == 0 {
		cfg.Tracker.CommonPhrases = []string{"DONE", "OK", "COMPLETE", "FINISHED", "READY", "YES", "NO"}
	}
	if cfg.Tracker.StallIterations == 0 {
		cfg.Tracker.StallIterations = 5
	}
	if cfg.Tracker.CircuitOpenAfter == 0 {
		cfg.Tracker.CircuitOpenAfter = 3
	}

	if cfg.Respawn.IdleTimeoutMs == 0 {
		cfg.Respawn.IdleTimeoutMs = 5000
	}
	if cfg.Respawn.CooldownMs == 0 {
		cfg.Respawn.CooldownMs = 30_000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10_000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}
}
