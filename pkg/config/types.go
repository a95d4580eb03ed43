package config

import "time"

// EngineConfig locates the crawl engine.
type EngineConfig struct {
	// BaseURL is the engine's HTTP API root, e.g. http://localhost:8000/api.
	BaseURL string `yaml:"base_url"`

	// PushURL is the engine's WebSocket event endpoint. Empty disables push.
	PushURL string `yaml:"push_url"`

	// RequestTimeout bounds control requests (start, stop, config).
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// StorageTarget is forwarded with every start request.
	StorageTarget string `yaml:"storage_target"`
}

// PollConfig controls the status polling loop.
type PollConfig struct {
	Interval           time.Duration `yaml:"interval"`
	StaleAfterFailures int           `yaml:"stale_after_failures"`
}

// PushConfig controls the push subscription.
type PushConfig struct {
	Enabled          *bool         `yaml:"enabled,omitempty"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffCap       time.Duration `yaml:"backoff_cap"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// APIConfig controls the dashboard HTTP server.
type APIConfig struct {
	Listen string `yaml:"listen"`

	// AllowedWSOrigins are extra origin patterns accepted on the live feed.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}
