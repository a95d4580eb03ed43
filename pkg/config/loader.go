package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "crawlwatch.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load crawlwatch.yaml from configDir (missing file means defaults)
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge onto built-in defaults
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"engine", cfg.Engine.BaseURL,
		"push_enabled", cfg.PushEnabled(),
		"poll_interval", cfg.Poll.Interval,
		"history_enabled", cfg.History.IsEnabled(),
		"masking_enabled", cfg.Masking.IsEnabled())

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	var fileCfg Config
	err := loader.loadYAML(FileName, &fileCfg)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		slog.Warn("No configuration file found, using defaults",
			"path", filepath.Join(configDir, FileName))
	case err != nil:
		return nil, NewLoadError(FileName, err)
	}

	cfg, err := mergeOntoDefaults(&fileCfg)
	if err != nil {
		return nil, NewLoadError(FileName, err)
	}
	cfg.configDir = configDir
	return cfg, nil
}

// mergeOntoDefaults overlays every non-zero value from fileCfg onto the
// built-in defaults. Explicit booleans are applied separately so that
// "enabled: false" is honoured.
func mergeOntoDefaults(fileCfg *Config) (*Config, error) {
	cfg := DefaultConfig()

	pushEnabled, historyEnabled := fileCfg.Push.Enabled, fileCfg.History.Enabled
	maskingEnabled := fileCfg.Masking.Enabled
	fileCfg.Push.Enabled, fileCfg.History.Enabled, fileCfg.Masking.Enabled = nil, nil, nil

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	if pushEnabled != nil {
		cfg.Push.Enabled = pushEnabled
	}
	if historyEnabled != nil {
		cfg.History.Enabled = historyEnabled
	}
	if maskingEnabled != nil {
		cfg.Masking.Enabled = maskingEnabled
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Malformed templates pass through unchanged so the YAML parser reports them.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}
