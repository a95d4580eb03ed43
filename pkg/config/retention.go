package config

import "time"

// HistoryConfig controls recording of finished sessions and their retention.
type HistoryConfig struct {
	// Enabled turns on the Postgres history store. Database settings come
	// from DB_* environment variables.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Retention is how long finished sessions are kept.
	Retention time.Duration `yaml:"retention"`

	// CleanupInterval is how often the retention loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// IsEnabled reports whether history recording is on.
func (h *HistoryConfig) IsEnabled() bool {
	return h.Enabled != nil && *h.Enabled
}
