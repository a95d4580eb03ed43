package config

import (
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/events"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
	"github.com/codeready-toolchain/crawlwatch/pkg/poll"
)

// Config is the resolved crawlwatch configuration returned by Initialize.
type Config struct {
	configDir string

	Engine  EngineConfig  `yaml:"engine"`
	Poll    PollConfig    `yaml:"poll"`
	Push    PushConfig    `yaml:"push"`
	API     APIConfig     `yaml:"api"`
	History HistoryConfig `yaml:"history"`
	Masking MaskingConfig `yaml:"masking"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// PushEnabled reports whether the push subscription should be opened.
func (c *Config) PushEnabled() bool {
	return c.Engine.PushURL != "" && (c.Push.Enabled == nil || *c.Push.Enabled)
}

// MonitorConfig translates the configuration into monitor settings.
func (c *Config) MonitorConfig() monitor.Config {
	cfg := monitor.Config{
		PollInterval: c.Poll.Interval,
		Poll: poll.Config{
			StaleAfterFailures: c.Poll.StaleAfterFailures,
		},
		Push: events.Config{
			Backoff:          events.NewBackoff(c.Push.BackoffBase, c.Push.BackoffCap),
			HandshakeTimeout: c.Push.HandshakeTimeout,
		},
		StorageTarget: c.Engine.StorageTarget,
	}
	if c.PushEnabled() {
		cfg.PushURL = c.Engine.PushURL
	}
	return cfg
}

// DefaultConfig returns the built-in defaults every file is merged onto.
func DefaultConfig() *Config {
	enabled := true
	disabled := false
	return &Config{
		Engine: EngineConfig{
			BaseURL:        "http://localhost:8000/api",
			RequestTimeout: 30 * time.Second,
		},
		Poll: PollConfig{
			Interval:           monitor.DefaultPollInterval,
			StaleAfterFailures: poll.DefaultStaleAfterFailures,
		},
		Push: PushConfig{
			Enabled:          &enabled,
			BackoffBase:      events.DefaultBackoffBase,
			BackoffCap:       events.DefaultBackoffCap,
			HandshakeTimeout: events.DefaultHandshakeTimeout,
		},
		API: APIConfig{
			Listen: ":8080",
		},
		History: HistoryConfig{
			Enabled:         &disabled,
			Retention:       90 * 24 * time.Hour,
			CleanupInterval: 12 * time.Hour,
		},
		Masking: MaskingConfig{
			Enabled: &enabled,
		},
	}
}
