package config

import (
	"fmt"
	"net"
	"net/url"

	"github.com/codeready-toolchain/crawlwatch/pkg/masking"
)

// ConfigValidator validates configuration with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll validates every section (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateEngine(); err != nil {
		return fmt.Errorf("engine validation failed: %w", err)
	}
	if err := v.validatePoll(); err != nil {
		return fmt.Errorf("poll validation failed: %w", err)
	}
	if err := v.validatePush(); err != nil {
		return fmt.Errorf("push validation failed: %w", err)
	}
	if err := v.validateAPI(); err != nil {
		return fmt.Errorf("api validation failed: %w", err)
	}
	if err := v.validateHistory(); err != nil {
		return fmt.Errorf("history validation failed: %w", err)
	}
	if err := v.validateMasking(); err != nil {
		return fmt.Errorf("masking validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateEngine() error {
	e := v.cfg.Engine
	if e.BaseURL == "" {
		return NewValidationError("engine", "base_url", ErrMissingRequiredField)
	}
	if err := checkURL(e.BaseURL, "http", "https"); err != nil {
		return NewValidationError("engine", "base_url", err)
	}
	if e.PushURL != "" {
		if err := checkURL(e.PushURL, "ws", "wss"); err != nil {
			return NewValidationError("engine", "push_url", err)
		}
	}
	if e.RequestTimeout <= 0 {
		return NewValidationError("engine", "request_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validatePoll() error {
	p := v.cfg.Poll
	if p.Interval <= 0 {
		return NewValidationError("poll", "interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.StaleAfterFailures < 1 {
		return NewValidationError("poll", "stale_after_failures", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validatePush() error {
	p := v.cfg.Push
	if p.BackoffBase <= 0 {
		return NewValidationError("push", "backoff_base", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.BackoffCap < p.BackoffBase {
		return NewValidationError("push", "backoff_cap",
			fmt.Errorf("%w: %v is below backoff_base %v", ErrInvalidValue, p.BackoffCap, p.BackoffBase))
	}
	if p.HandshakeTimeout <= 0 {
		return NewValidationError("push", "handshake_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateAPI() error {
	if v.cfg.API.Listen == "" {
		return NewValidationError("api", "listen", ErrMissingRequiredField)
	}
	if _, _, err := net.SplitHostPort(v.cfg.API.Listen); err != nil {
		return NewValidationError("api", "listen", fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	return nil
}

func (v *ConfigValidator) validateHistory() error {
	h := v.cfg.History
	if !h.IsEnabled() {
		return nil
	}
	if h.Retention <= 0 {
		return NewValidationError("history", "retention", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if h.CleanupInterval <= 0 {
		return NewValidationError("history", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateMasking() error {
	m := v.cfg.Masking
	if !m.IsEnabled() {
		return nil
	}
	for _, name := range m.Patterns {
		if !masking.IsBuiltinPattern(name) {
			return NewValidationError("masking", "patterns",
				fmt.Errorf("%w: unknown pattern %q", ErrInvalidValue, name))
		}
	}
	for i, p := range m.CustomPatterns {
		if p.Pattern == "" {
			return NewValidationError("masking", fmt.Sprintf("custom_patterns[%d].pattern", i), ErrMissingRequiredField)
		}
		if err := masking.ValidatePattern(p.Pattern); err != nil {
			return NewValidationError("masking", fmt.Sprintf("custom_patterns[%d].pattern", i),
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%w: %q has no host", ErrInvalidValue, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q must use one of %v", ErrInvalidValue, raw, schemes)
}
